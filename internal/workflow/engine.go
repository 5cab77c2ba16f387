package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldhub.org/internal/audit"
	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/extsync"
	"fieldhub.org/internal/ids"
	"fieldhub.org/internal/notify"
	"fieldhub.org/internal/obs"
	"fieldhub.org/internal/scope"
)

// CapabilityResolver yields the acting actor's effective capabilities.
type CapabilityResolver interface {
	Resolve(ctx context.Context, actorID string) (auth.Capabilities, error)
}

// Engine is the generic state machine shared by all five families. It owns
// transition legality and ordering; authorization is delegated to the
// resolver, persistence to the store, side effects to the injected
// collaborators.
type Engine struct {
	store      Store
	resolver   CapabilityResolver
	scopes     scope.Directory
	dispatcher *notify.Dispatcher
	syncer     extsync.Syncer
}

// NewEngine wires the engine. dispatcher and syncer may be nil; the
// matching side effects are then skipped.
func NewEngine(store Store, resolver CapabilityResolver, scopes scope.Directory, dispatcher *notify.Dispatcher, syncer extsync.Syncer) *Engine {
	return &Engine{
		store:      store,
		resolver:   resolver,
		scopes:     scopes,
		dispatcher: dispatcher,
		syncer:     syncer,
	}
}

// Create validates and persists a new item in its family's initial status,
// together with its `created` audit event.
func (e *Engine) Create(ctx context.Context, actorID string, family Family, input CreateInput) (Item, error) {
	item, err := e.create(ctx, actorID, family, input)
	obs.ObserveTransition(string(family), string(audit.EventCreated), outcomeLabel(err))
	return item, err
}

func (e *Engine) create(ctx context.Context, actorID string, family Family, input CreateInput) (Item, error) {
	spec, ok := families[family]
	if !ok {
		return Item{}, fmt.Errorf("%w: unknown family %q", ErrNotFound, family)
	}

	caps, err := e.resolver.Resolve(ctx, actorID)
	if err != nil {
		return Item{}, err
	}
	if err := auth.CanAct(caps, spec.createRoles, auth.ScopeNone, "", ""); err != nil {
		return Item{}, err
	}

	payload := normalizePayload(family, input.Payload)
	if err := validatePayload(family, payload); err != nil {
		return Item{}, err
	}

	area := strings.TrimSpace(input.OpsArea)
	if family == FamilyInventoryMove {
		// A move belongs to its source area; the target only matters for
		// scope checks and routing.
		area = strings.TrimSpace(payload.SourceArea)
		if _, err := e.scopes.HubFor(ctx, strings.TrimSpace(payload.TargetArea)); err != nil {
			return Item{}, err
		}
	}
	if area == "" {
		return Item{}, invalidPayload(map[string]string{"ops_area": "operating area is required"})
	}
	// Every referenced area must have a hub binding; absence is a
	// configuration error, not a workflow error.
	if _, err := e.scopes.HubFor(ctx, area); err != nil {
		return Item{}, err
	}

	initial, _ := InitialStatus(family, input.Draft)
	now := time.Now().UTC()
	item := Item{
		ID:        ids.New(),
		Family:    family,
		Status:    initial,
		OpsArea:   area,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
		Payload:   payload,
	}

	event := audit.Event{
		Family:  string(family),
		ItemID:  item.ID,
		Type:    audit.EventCreated,
		ActorID: actorID,
		Note:    strings.TrimSpace(input.Note),
		NewValues: map[string]any{
			"status":  string(initial),
			"payload": payloadMap(payload),
		},
	}

	item, _, err = e.store.CreateItem(ctx, item, event)
	return item, err
}

// Apply performs one transition: lookup, authorize, validate, then the
// atomic status-plus-audit write. Notification and external sync run after
// the atomic unit commits and are best-effort.
func (e *Engine) Apply(ctx context.Context, actorID string, family Family, itemID string, event audit.EventType, input ApplyInput) (Item, error) {
	item, err := e.apply(ctx, actorID, family, itemID, event, input)
	obs.ObserveTransition(string(family), string(event), outcomeLabel(err))
	return item, err
}

func (e *Engine) apply(ctx context.Context, actorID string, family Family, itemID string, event audit.EventType, input ApplyInput) (Item, error) {
	item, err := e.store.GetItem(ctx, family, itemID)
	if err != nil {
		return Item{}, err
	}

	tr, ok := lookup(family, item.Status, event)
	if !ok {
		return Item{}, fmt.Errorf("%w: no %s transition from %s", ErrIllegalTransition, event, item.Status)
	}

	caps, err := e.resolver.Resolve(ctx, actorID)
	if err != nil {
		return Item{}, err
	}
	if err := e.authorize(ctx, caps, item, tr); err != nil {
		return Item{}, err
	}

	note := strings.TrimSpace(input.Note)
	if tr.RequireNote && note == "" {
		return Item{}, invalidPayload(map[string]string{"note": "a non-empty note is required"})
	}

	payload := item.Payload
	if input.Payload != nil {
		payload = normalizePayload(family, *input.Payload)
	}
	if err := validatePayload(family, payload); err != nil {
		return Item{}, err
	}

	expected := item.Status
	now := time.Now().UTC()
	updated := copyItem(item)
	updated.Status = tr.Next
	updated.UpdatedAt = now
	updated.Payload = payload
	if family == FamilyInventoryMove {
		if input.Payload != nil {
			// A revised move may reroute; both ends must stay bound.
			if _, err := e.scopes.HubFor(ctx, payload.SourceArea); err != nil {
				return Item{}, err
			}
			if _, err := e.scopes.HubFor(ctx, payload.TargetArea); err != nil {
				return Item{}, err
			}
		}
		updated.OpsArea = payload.SourceArea
	}

	oldValues := map[string]any{"status": string(expected)}
	newValues := map[string]any{"status": string(tr.Next)}
	if input.Payload != nil {
		oldValues["payload"] = payloadMap(item.Payload)
		newValues["payload"] = payloadMap(payload)
	}
	if event == audit.EventRejected {
		updated.RejectionNote = note
		newValues["rejection_note"] = note
	}
	if tr.SetCompleted && updated.CompletedAt == nil {
		updated.CompletedAt = &now
		newValues["completed_at"] = now.Format(time.RFC3339Nano)
	}
	if tr.SetCancelled && updated.CancelledAt == nil {
		updated.CancelledAt = &now
		newValues["cancelled_at"] = now.Format(time.RFC3339Nano)
	}

	auditEvent := audit.Event{
		Family:    string(family),
		ItemID:    item.ID,
		Type:      event,
		ActorID:   actorID,
		Note:      note,
		OldValues: oldValues,
		NewValues: newValues,
	}

	updated, _, err = e.store.UpdateItemCAS(ctx, updated, expected, auditEvent)
	if err != nil {
		return Item{}, err
	}

	// Committed. Everything below must not undo or fail the transition.
	if tr.Notify != nil && e.dispatcher != nil {
		message := fmt.Sprintf("%s %s is now %s", familyLabel(family), updated.ID, tr.Next)
		if note != "" {
			message += ": " + note
		}
		link := fmt.Sprintf("/v1/items/%s/%s", family, updated.ID)
		e.dispatcher.Notify(ctx, updated.CreatedBy, tr.Notify.Title, message, tr.Notify.Kind, link)
	}
	if tr.Sync && e.syncer != nil {
		if err := e.syncer.Sync(ctx, string(family), updated.ID); err != nil {
			obs.LogEntry(map[string]any{
				"ts":     time.Now().UTC().Format(time.RFC3339Nano),
				"level":  "error",
				"msg":    "external inventory sync failed",
				"family": family,
				"item":   updated.ID,
				"error":  err.Error(),
			})
		}
	}
	return updated, nil
}

// Comment appends a comment event without any status mutation.
func (e *Engine) Comment(ctx context.Context, actorID string, family Family, itemID, note string) (audit.Event, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return audit.Event{}, invalidPayload(map[string]string{"note": "a non-empty note is required"})
	}
	item, err := e.store.GetItem(ctx, family, itemID)
	if err != nil {
		return audit.Event{}, err
	}
	caps, err := e.resolver.Resolve(ctx, actorID)
	if err != nil {
		return audit.Event{}, err
	}
	if err := e.authorizeRead(ctx, caps, item); err != nil {
		return audit.Event{}, err
	}
	return e.store.AppendEvent(ctx, audit.Event{
		Family:  string(family),
		ItemID:  itemID,
		Type:    audit.EventComment,
		ActorID: actorID,
		Note:    note,
	})
}

// Get loads one item the actor is allowed to see.
func (e *Engine) Get(ctx context.Context, actorID string, family Family, itemID string) (Item, error) {
	item, err := e.store.GetItem(ctx, family, itemID)
	if err != nil {
		return Item{}, err
	}
	caps, err := e.resolver.Resolve(ctx, actorID)
	if err != nil {
		return Item{}, err
	}
	if err := e.authorizeRead(ctx, caps, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// History returns the item's ordered audit sequence, the authoritative
// record of everything that happened to it.
func (e *Engine) History(ctx context.Context, actorID string, family Family, itemID string) ([]audit.Event, error) {
	item, err := e.store.GetItem(ctx, family, itemID)
	if err != nil {
		return nil, err
	}
	caps, err := e.resolver.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeRead(ctx, caps, item); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, family, itemID)
}

// List returns items matching the filter, restricted to the actor's
// effective scope: requesters see their own items, reviewers their areas,
// hub admins the items routed to their hubs, admins everything.
func (e *Engine) List(ctx context.Context, actorID string, filter ListFilter) ([]Item, error) {
	caps, err := e.resolver.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	if caps.IsAdmin() || caps.Scope.Wildcard {
		return items, nil
	}
	visible := items[:0]
	for _, item := range items {
		if e.authorizeRead(ctx, caps, item) == nil {
			visible = append(visible, item)
		}
	}
	return visible, nil
}

// authorize applies the transition's scope rule.
func (e *Engine) authorize(ctx context.Context, caps auth.Capabilities, item Item, tr Transition) error {
	// Requester-only transitions: holding the role is not enough, the
	// item must be the actor's own. Admins may act on anyone's item.
	if tr.RequireOwner && !caps.IsAdmin() && caps.ActorID != item.CreatedBy {
		return fmt.Errorf("%w: not the item's requester", auth.ErrForbidden)
	}
	switch tr.Scope {
	case ScopeRuleNone:
		return auth.CanAct(caps, tr.Roles, auth.ScopeNone, "", "")
	case ScopeRuleArea:
		return auth.CanAct(caps, tr.Roles, auth.ScopeArea, item.OpsArea, "")
	case ScopeRuleHub:
		hub, err := e.scopes.HubFor(ctx, item.OpsArea)
		if err != nil {
			return err
		}
		return auth.CanAct(caps, tr.Roles, auth.ScopeHub, "", hub)
	case ScopeRuleAreaEither:
		// Scope over either the source or the target area suffices.
		if err := auth.CanAct(caps, tr.Roles, auth.ScopeArea, item.Payload.SourceArea, ""); err == nil {
			return nil
		} else if !errors.Is(err, auth.ErrForbidden) {
			return err
		}
		return auth.CanAct(caps, tr.Roles, auth.ScopeArea, item.Payload.TargetArea, "")
	default:
		return fmt.Errorf("%w: unknown scope rule", ErrIllegalTransition)
	}
}

// authorizeRead checks item visibility: creator, area reviewer, or the
// admin of the hub the item routes to.
func (e *Engine) authorizeRead(ctx context.Context, caps auth.Capabilities, item Item) error {
	if caps.ActorID == item.CreatedBy {
		return nil
	}
	if caps.IsAdmin() {
		return nil
	}
	if caps.IsOPX() || caps.IsTPS() {
		if caps.Scope.CoversArea(item.OpsArea) {
			return nil
		}
		if item.Family == FamilyInventoryMove && caps.Scope.CoversArea(item.Payload.TargetArea) {
			return nil
		}
	}
	if caps.IsHubAdmin() {
		hub, err := e.scopes.HubFor(ctx, item.OpsArea)
		if err == nil && caps.Scope.CoversHub(hub) {
			return nil
		}
	}
	return fmt.Errorf("%w: item outside actor scope", auth.ErrForbidden)
}

// normalizePayload applies family defaults before validation.
func normalizePayload(family Family, p Payload) Payload {
	p = copyPayload(p)
	switch family {
	case FamilyEquipmentRequest:
		for i := range p.Lines {
			if p.Lines[i].LineStatus == "" {
				p.Lines[i].LineStatus = LinePending
			}
		}
	case FamilyBrokenItemReport:
		p.Severity = strings.ToLower(strings.TrimSpace(p.Severity))
	case FamilyInventoryMove:
		p.SourceArea = strings.TrimSpace(p.SourceArea)
		p.TargetArea = strings.TrimSpace(p.TargetArea)
	}
	return p
}

// payloadMap renders a payload as an open map for audit snapshots.
func payloadMap(p Payload) map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	_ = json.Unmarshal(data, &out)
	return out
}

func familyLabel(f Family) string {
	switch f {
	case FamilyEquipmentRequest:
		return "Equipment request"
	case FamilyCycleCount:
		return "Cycle count"
	case FamilyBrokenItemReport:
		return "Broken-item report"
	case FamilyMaintenanceRecord:
		return "Maintenance record"
	case FamilyInventoryMove:
		return "Inventory move"
	}
	return string(f)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, scope.ErrUnconfiguredArea):
		return "unconfigured_area"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
