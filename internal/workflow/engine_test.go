package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"fieldhub.org/internal/audit"
	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/notify"
	"fieldhub.org/internal/scope"
)

type syncRecorder struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (r *syncRecorder) Sync(ctx context.Context, family, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, family+"/"+itemID)
	if r.fail {
		return errors.New("sync backend down")
	}
	return nil
}

type fixture struct {
	t             *testing.T
	actors        *auth.InMemory
	scopes        *scope.InMemory
	store         *InMemory
	notifications *notify.InMemory
	syncs         *syncRecorder
	engine        *Engine

	requester auth.Actor
	opx       auth.Actor
	hubAdmin  auth.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		t:             t,
		actors:        auth.NewInMemory(),
		scopes:        scope.NewInMemory(),
		store:         NewInMemory(),
		notifications: notify.NewInMemory(),
		syncs:         &syncRecorder{},
	}

	if _, err := f.scopes.PutBinding(ctx, "Tuscany", "Italy Hub"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.scopes.PutBinding(ctx, "Czech", "Prague Hub"); err != nil {
		t.Fatal(err)
	}

	f.requester = f.actor("staff@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	f.opx = f.actor("opx@fieldhub.org", []string{"Tuscany"}, nil, auth.RoleOPX)
	f.hubAdmin = f.actor("hub@fieldhub.org", nil, []string{"Italy Hub"}, auth.RoleHubAdmin)

	resolver := auth.NewResolver(f.actors, auth.WithCacheTTL(0))
	f.engine = NewEngine(f.store, resolver, f.scopes, notify.NewDispatcher(f.notifications), f.syncs)
	return f
}

func (f *fixture) actor(email string, areas, hubs []string, roles ...auth.Role) auth.Actor {
	f.t.Helper()
	ctx := context.Background()
	actor, err := f.actors.CreateActor(ctx, email, "x", roles)
	if err != nil {
		f.t.Fatal(err)
	}
	for _, area := range areas {
		if err := f.actors.AssignArea(ctx, actor.ID, area); err != nil {
			f.t.Fatal(err)
		}
	}
	for _, hub := range hubs {
		if err := f.actors.AssignHub(ctx, actor.ID, hub); err != nil {
			f.t.Fatal(err)
		}
	}
	return actor
}

func (f *fixture) equipmentRequest(area string) Item {
	f.t.Helper()
	item, err := f.engine.Create(context.Background(), f.requester.ID, FamilyEquipmentRequest, CreateInput{
		OpsArea: area,
		Payload: Payload{Lines: []RequestLine{{Item: "pallet jack", Qty: 2}}},
	})
	if err != nil {
		f.t.Fatalf("create equipment request: %v", err)
	}
	return item
}

func (f *fixture) events(item Item) []audit.Event {
	f.t.Helper()
	events, err := f.store.ListEvents(context.Background(), item.Family, item.ID)
	if err != nil {
		f.t.Fatal(err)
	}
	return events
}

func TestEquipmentRequestApproveThenFulfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")
	if item.Status != StatusPending {
		t.Fatalf("initial status = %s", item.Status)
	}
	if len(f.events(item)) != 1 || f.events(item)[0].Type != audit.EventCreated {
		t.Fatalf("expected single created event, got %v", f.events(item))
	}

	// Scenario A: opx scoped to the area approves.
	item, err := f.engine.Apply(ctx, f.opx.ID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if item.Status != StatusOPXApproved {
		t.Fatalf("status after approve = %s", item.Status)
	}
	events := f.events(item)
	if len(events) != 2 || events[1].Type != audit.EventApproved {
		t.Fatalf("expected appended approved event, got %v", events)
	}
	// Hub acts separately; no notification yet.
	rows, _ := f.notifications.ListForActor(ctx, f.requester.ID, false)
	if len(rows) != 0 {
		t.Fatalf("no notification expected before hub acts, got %v", rows)
	}

	// Scenario B: hub admin scoped to the bound hub fulfills.
	item, err = f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventFulfilled, ApplyInput{})
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if item.Status != StatusFulfilled {
		t.Fatalf("status after fulfill = %s", item.Status)
	}
	rows, _ = f.notifications.ListForActor(ctx, f.requester.ID, false)
	if len(rows) != 1 || rows[0].Kind != notify.KindSuccess {
		t.Fatalf("expected one success notification for the requester, got %v", rows)
	}
	if len(f.syncs.calls) != 1 {
		t.Fatalf("expected one external sync call, got %v", f.syncs.calls)
	}

	// Terminal: any further transition is illegal.
	if _, err := f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventFulfilled, ApplyInput{}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition on terminal state, got %v", err)
	}
}

func TestHubDeclineNotifiesWithReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")
	item, err := f.engine.Apply(ctx, f.opx.ID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{})
	if err != nil {
		t.Fatal(err)
	}

	// Decline requires a note.
	if _, err := f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventRejected, ApplyInput{}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload without note, got %v", err)
	}

	item, err = f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventRejected, ApplyInput{Note: "out of stock"})
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != StatusDeclined || item.RejectionNote != "out of stock" {
		t.Fatalf("unexpected declined item: %+v", item)
	}

	rows, _ := f.notifications.ListForActor(ctx, f.requester.ID, false)
	if len(rows) != 1 || rows[0].Kind != notify.KindError {
		t.Fatalf("expected error notification, got %v", rows)
	}
	if want := "out of stock"; !strings.Contains(rows[0].Message, want) {
		t.Fatalf("decline reason missing from message %q", rows[0].Message)
	}
}

func TestIllegalTransitionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")
	before := len(f.events(item))

	_, err := f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventFulfilled, ApplyInput{})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	got, _ := f.store.GetItem(ctx, FamilyEquipmentRequest, item.ID)
	if got.Status != StatusPending {
		t.Fatalf("status mutated on illegal transition: %s", got.Status)
	}
	if len(f.events(item)) != before {
		t.Fatal("audit log mutated on illegal transition")
	}
}

func TestForbiddenOutOfScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Scenario D: opx with no assignment for Czech rejects a Czech count.
	staffCzech := f.actor("czech-staff@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	count, err := f.engine.Create(ctx, staffCzech.ID, FamilyCycleCount, CreateInput{
		OpsArea: "Czech",
		Payload: Payload{Counts: []CountLine{{Item: "scanner", ExpectedQty: 5, RecordedQty: 4}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.engine.Apply(ctx, f.opx.ID, FamilyCycleCount, count.ID, audit.EventRejected, ApplyInput{Note: "recount"})
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	got, _ := f.store.GetItem(ctx, FamilyCycleCount, count.ID)
	if got.Status != StatusSubmitted {
		t.Fatalf("item mutated despite Forbidden: %s", got.Status)
	}
	if len(f.events(got)) != 1 {
		t.Fatal("audit log mutated despite Forbidden")
	}

	// Capability alone is not enough the other way either: hub admin with
	// hub scope cannot run an area-scoped approval.
	item := f.equipmentRequest("Tuscany")
	if _, err := f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSuperAdminWildcard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.actor("root@fieldhub.org", nil, nil, auth.RoleSuperAdmin)

	item := f.equipmentRequest("Tuscany")
	item, err := f.engine.Apply(ctx, root.ID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{})
	if err != nil {
		t.Fatalf("super_admin approve: %v", err)
	}
	if _, err := f.engine.Apply(ctx, root.ID, FamilyEquipmentRequest, item.ID, audit.EventFulfilled, ApplyInput{}); err != nil {
		t.Fatalf("super_admin fulfill: %v", err)
	}
}

func TestCycleCountNegativeQty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Scenario C: invalid payload is rejected before any status mutation.
	_, err := f.engine.Create(ctx, f.requester.ID, FamilyCycleCount, CreateInput{
		OpsArea: "Tuscany",
		Payload: Payload{Counts: []CountLine{{Item: "scanner", ExpectedQty: 5, RecordedQty: -1}}},
	})
	var payloadErr *InvalidPayloadError
	if !errors.As(err, &payloadErr) {
		t.Fatalf("expected InvalidPayloadError, got %v", err)
	}
	if _, ok := payloadErr.Fields["counts[0].recorded_qty"]; !ok {
		t.Fatalf("expected field error for recorded_qty, got %v", payloadErr.Fields)
	}

	items, _ := f.store.ListItems(ctx, ListFilter{Family: FamilyCycleCount})
	if len(items) != 0 {
		t.Fatal("item persisted despite invalid payload")
	}
}

func TestPayloadMustMatchFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, f.requester.ID, FamilyCycleCount, CreateInput{
		OpsArea: "Tuscany",
		Payload: Payload{
			Counts: []CountLine{{Item: "scanner", ExpectedQty: 1, RecordedQty: 1}},
			Lines:  []RequestLine{{Item: "forklift", Qty: 1}},
		},
	})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for foreign payload fields, got %v", err)
	}
}

func TestInventoryMoveCancelEitherScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Scenario E: move Tuscany -> Czech, cancelled by an actor scoped only
	// to the source area.
	mover := f.actor("mover@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	move, err := f.engine.Create(ctx, mover.ID, FamilyInventoryMove, CreateInput{
		Payload: Payload{
			SourceArea: "Tuscany",
			TargetArea: "Czech",
			Lines:      []RequestLine{{Item: "shelving", Qty: 4}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if move.Status != StatusSubmitted || move.OpsArea != "Tuscany" {
		t.Fatalf("unexpected move: %+v", move)
	}

	move, err = f.engine.Apply(ctx, f.opx.ID, FamilyInventoryMove, move.ID, audit.EventCancelled, ApplyInput{})
	if err != nil {
		t.Fatalf("cancel with source-area scope: %v", err)
	}
	if move.Status != StatusCancelled || move.CancelledAt == nil {
		t.Fatalf("cancelled_at not set: %+v", move)
	}
	cancelledAt := *move.CancelledAt

	// Re-cancel fails and the timestamp stays untouched.
	if _, err := f.engine.Apply(ctx, f.opx.ID, FamilyInventoryMove, move.ID, audit.EventCancelled, ApplyInput{}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition on second cancel, got %v", err)
	}
	got, _ := f.store.GetItem(ctx, FamilyInventoryMove, move.ID)
	if got.CancelledAt == nil || !got.CancelledAt.Equal(cancelledAt) {
		t.Fatalf("cancelled_at changed: %v != %v", got.CancelledAt, cancelledAt)
	}
}

func TestInventoryMoveTargetScopeAlsoSuffices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opxCzech := f.actor("czech-opx@fieldhub.org", []string{"Czech"}, nil, auth.RoleOPX)
	move, err := f.engine.Create(ctx, f.requester.ID, FamilyInventoryMove, CreateInput{
		Payload: Payload{
			SourceArea: "Tuscany",
			TargetArea: "Czech",
			Lines:      []RequestLine{{Item: "shelving", Qty: 1}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	move, err = f.engine.Apply(ctx, opxCzech.ID, FamilyInventoryMove, move.ID, audit.EventFulfilled, ApplyInput{})
	if err != nil {
		t.Fatalf("complete with target-area scope: %v", err)
	}
	if move.Status != StatusCompleted || move.CompletedAt == nil {
		t.Fatalf("unexpected move after completion: %+v", move)
	}
}

func TestMaintenanceRecordCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.engine.Create(ctx, f.requester.ID, FamilyMaintenanceRecord, CreateInput{
		OpsArea: "Tuscany",
		Payload: Payload{Notes: "forklift annual service"},
	})
	if err != nil {
		t.Fatal(err)
	}
	rec, err = f.engine.Apply(ctx, f.opx.ID, FamilyMaintenanceRecord, rec.ID, audit.EventFulfilled, ApplyInput{})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusCompleted || rec.CompletedAt == nil {
		t.Fatalf("completion timestamp missing: %+v", rec)
	}
}

func TestBrokenItemReportLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.engine.Create(ctx, f.requester.ID, FamilyBrokenItemReport, CreateInput{
		OpsArea: "Tuscany",
		Payload: Payload{Severity: "High", Notes: "bent mast", PhotoPath: "blobs/2026/mast.jpg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Payload.Severity != "high" {
		t.Fatalf("severity not normalized: %q", report.Payload.Severity)
	}

	report, err = f.engine.Apply(ctx, f.opx.ID, FamilyBrokenItemReport, report.ID, audit.EventModified, ApplyInput{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusInMaintenance {
		t.Fatalf("status = %s", report.Status)
	}
	report, err = f.engine.Apply(ctx, f.opx.ID, FamilyBrokenItemReport, report.ID, audit.EventModified, ApplyInput{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusResolved {
		t.Fatalf("status = %s", report.Status)
	}
}

func TestModifiedRecordsPayloadSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")
	revised := Payload{Lines: []RequestLine{{Item: "pallet jack", Qty: 5}}}
	item, err := f.engine.Apply(ctx, f.requester.ID, FamilyEquipmentRequest, item.ID, audit.EventModified, ApplyInput{Payload: &revised})
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != StatusPendingOPX || item.Payload.Lines[0].Qty != 5 {
		t.Fatalf("unexpected item after modify: %+v", item)
	}

	events := f.events(item)
	last := events[len(events)-1]
	if last.Type != audit.EventModified || last.OldValues["payload"] == nil || last.NewValues["payload"] == nil {
		t.Fatalf("modified event missing payload snapshots: %+v", last)
	}
}

func TestOPXLineDecisionsOnApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.engine.Create(ctx, f.requester.ID, FamilyEquipmentRequest, CreateInput{
		OpsArea: "Tuscany",
		Payload: Payload{Lines: []RequestLine{{Item: "pallet jack", Qty: 4}, {Item: "hand truck", Qty: 2}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	three, zero := 3, 0
	decided := Payload{Lines: []RequestLine{
		{Item: "pallet jack", Qty: 4, ApprovedQty: &three, LineStatus: LineApproved},
		{Item: "hand truck", Qty: 2, ApprovedQty: &zero, LineStatus: LineRejected},
	}}
	item, err = f.engine.Apply(ctx, f.opx.ID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{Payload: &decided})
	if err != nil {
		t.Fatal(err)
	}
	if item.Payload.Lines[0].LineStatus != LineApproved || *item.Payload.Lines[0].ApprovedQty != 3 {
		t.Fatalf("line decision lost: %+v", item.Payload.Lines)
	}

	// Raising the approved quantity above the request is invalid.
	ten := 10
	bad := Payload{Lines: []RequestLine{{Item: "pallet jack", Qty: 4, ApprovedQty: &ten}}}
	item2 := f.equipmentRequest("Tuscany")
	if _, err := f.engine.Apply(ctx, f.opx.ID, FamilyEquipmentRequest, item2.ID, audit.EventApproved, ApplyInput{Payload: &bad}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestCreateInUnboundAreaFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, f.requester.ID, FamilyEquipmentRequest, CreateInput{
		OpsArea: "Atlantis",
		Payload: Payload{Lines: []RequestLine{{Item: "trident", Qty: 1}}},
	})
	if !errors.Is(err, scope.ErrUnconfiguredArea) {
		t.Fatalf("expected ErrUnconfiguredArea, got %v", err)
	}
}

func TestConcurrentApplyExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opx2 := f.actor("opx2@fieldhub.org", []string{"Tuscany"}, nil, auth.RoleOPX)
	item := f.equipmentRequest("Tuscany")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, actorID := range []string{f.opx.ID, opx2.ID} {
		wg.Add(1)
		go func(i int, actorID string) {
			defer wg.Done()
			_, results[i] = f.engine.Apply(ctx, actorID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{})
		}(i, actorID)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict) || errors.Is(err, ErrIllegalTransition):
			// The loser races either the CAS (Conflict) or the re-read of
			// an already-moved status (IllegalTransition). Both mean the
			// other transition applied exactly once.
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}

	got, _ := f.store.GetItem(ctx, FamilyEquipmentRequest, item.ID)
	if got.Status != StatusOPXApproved {
		t.Fatalf("unexpected final status %s", got.Status)
	}
	// Exactly one approved event made it into the log.
	approved := 0
	for _, e := range f.events(got) {
		if e.Type == audit.EventApproved {
			approved++
		}
	}
	if approved != 1 {
		t.Fatalf("expected exactly one approved event, got %d", approved)
	}
}

func TestAuditCountMatchesSuccessfulApplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")
	applies := 0
	if _, err := f.engine.Apply(ctx, f.opx.ID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{}); err == nil {
		applies++
	}
	if _, err := f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventFulfilled, ApplyInput{}); err == nil {
		applies++
	}
	// Failed attempts must contribute nothing.
	_, _ = f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventFulfilled, ApplyInput{})

	events := f.events(item)
	changes := 0
	prev := ""
	for _, e := range events {
		status, _ := e.NewValues["status"].(string)
		if status != "" && status != prev {
			if e.Type != audit.EventCreated {
				changes++
			}
			prev = status
		}
	}
	if changes != applies {
		t.Fatalf("status-changing events = %d, successful applies = %d", changes, applies)
	}
}

func TestCommentLeavesStatusAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")
	if _, err := f.engine.Comment(ctx, f.opx.ID, FamilyEquipmentRequest, item.ID, "double-check the quantity"); err != nil {
		t.Fatal(err)
	}
	got, _ := f.store.GetItem(ctx, FamilyEquipmentRequest, item.ID)
	if got.Status != StatusPending {
		t.Fatalf("comment changed status: %s", got.Status)
	}
	events := f.events(item)
	if events[len(events)-1].Type != audit.EventComment {
		t.Fatalf("expected trailing comment event, got %v", events)
	}
	// No notification for comments.
	rows, _ := f.notifications.ListForActor(ctx, f.requester.ID, false)
	if len(rows) != 0 {
		t.Fatalf("comments must not notify, got %v", rows)
	}

	// Outside scope, commenting is forbidden.
	outsider := f.actor("outsider@fieldhub.org", []string{"Czech"}, nil, auth.RoleOPX)
	if _, err := f.engine.Comment(ctx, outsider.ID, FamilyEquipmentRequest, item.ID, "hi"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSyncFailureDoesNotUndoTransition(t *testing.T) {
	f := newFixture(t)
	f.syncs.fail = true
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")
	item, err := f.engine.Apply(ctx, f.opx.ID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{})
	if err != nil {
		t.Fatal(err)
	}
	item, err = f.engine.Apply(ctx, f.hubAdmin.ID, FamilyEquipmentRequest, item.ID, audit.EventFulfilled, ApplyInput{})
	if err != nil {
		t.Fatalf("sync failure must not fail the transition: %v", err)
	}
	if item.Status != StatusFulfilled {
		t.Fatalf("status = %s", item.Status)
	}
}

func TestListScopedToActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tuscany := f.equipmentRequest("Tuscany")
	czechStaff := f.actor("czstaff@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	if _, err := f.engine.Create(ctx, czechStaff.ID, FamilyEquipmentRequest, CreateInput{
		OpsArea: "Czech",
		Payload: Payload{Lines: []RequestLine{{Item: "ladder", Qty: 1}}},
	}); err != nil {
		t.Fatal(err)
	}

	// The Tuscany reviewer sees only Tuscany items.
	items, err := f.engine.List(ctx, f.opx.ID, ListFilter{Family: FamilyEquipmentRequest})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != tuscany.ID {
		t.Fatalf("unexpected reviewer listing: %v", items)
	}

	// The requester sees only their own items.
	items, err = f.engine.List(ctx, czechStaff.ID, ListFilter{Family: FamilyEquipmentRequest})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].CreatedBy != czechStaff.ID {
		t.Fatalf("unexpected requester listing: %v", items)
	}

	// The Italy hub admin sees items routed to Italy Hub.
	items, err = f.engine.List(ctx, f.hubAdmin.ID, ListFilter{Family: FamilyEquipmentRequest})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != tuscany.ID {
		t.Fatalf("unexpected hub listing: %v", items)
	}
}

func TestHistoryIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")
	if _, err := f.engine.Apply(ctx, f.opx.ID, FamilyEquipmentRequest, item.ID, audit.EventApproved, ApplyInput{}); err != nil {
		t.Fatal(err)
	}

	first, err := f.engine.History(ctx, f.requester.ID, FamilyEquipmentRequest, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.History(ctx, f.requester.ID, FamilyEquipmentRequest, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("history length changed between reads: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("history order changed at %d", i)
		}
	}
}

func TestModifyIsRequesterOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.equipmentRequest("Tuscany")

	// Another field staff actor, no assignments at all, tries to rewrite
	// the request.
	stranger := f.actor("stranger@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	revised := Payload{Lines: []RequestLine{{Item: "gold bars", Qty: 999}}}
	if _, err := f.engine.Apply(ctx, stranger.ID, FamilyEquipmentRequest, item.ID, audit.EventModified, ApplyInput{Payload: &revised}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-requester modify, got %v", err)
	}
	got, _ := f.store.GetItem(ctx, FamilyEquipmentRequest, item.ID)
	if got.Status != StatusPending || got.Payload.Lines[0].Item != "pallet jack" {
		t.Fatalf("stranger's modify left a trace: %+v", got)
	}
	if n := len(f.events(item)); n != 1 {
		t.Fatalf("expected only the created event, got %d", n)
	}

	// The requester may edit; an admin may edit anyone's item.
	if _, err := f.engine.Apply(ctx, f.requester.ID, FamilyEquipmentRequest, item.ID, audit.EventModified, ApplyInput{Payload: &revised}); err != nil {
		t.Fatalf("requester modify: %v", err)
	}
	admin := f.actor("admin@fieldhub.org", nil, nil, auth.RoleAdmin)
	if _, err := f.engine.Apply(ctx, admin.ID, FamilyEquipmentRequest, item.ID, audit.EventModified, ApplyInput{Payload: &revised}); err != nil {
		t.Fatalf("admin modify: %v", err)
	}
}

func TestDraftMoveActionsAreRequesterOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mover := f.actor("mover@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	move, err := f.engine.Create(ctx, mover.ID, FamilyInventoryMove, CreateInput{
		Draft: true,
		Payload: Payload{
			SourceArea: "Tuscany",
			TargetArea: "Czech",
			Lines:      []RequestLine{{Item: "shelving", Qty: 4}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if move.Status != StatusDraft {
		t.Fatalf("unexpected status %s", move.Status)
	}

	// Even an opx scoped to the source area cannot touch someone else's
	// draft.
	if _, err := f.engine.Apply(ctx, f.opx.ID, FamilyInventoryMove, move.ID, audit.EventCancelled, ApplyInput{}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden cancelling foreign draft, got %v", err)
	}
	if _, err := f.engine.Apply(ctx, f.opx.ID, FamilyInventoryMove, move.ID, audit.EventModified, ApplyInput{}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden submitting foreign draft, got %v", err)
	}

	// The creator submits their own draft.
	move, err = f.engine.Apply(ctx, mover.ID, FamilyInventoryMove, move.ID, audit.EventModified, ApplyInput{})
	if err != nil {
		t.Fatalf("owner submit: %v", err)
	}
	if move.Status != StatusSubmitted {
		t.Fatalf("unexpected status %s", move.Status)
	}
}
