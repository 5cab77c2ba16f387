package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/notify"
	"fieldhub.org/internal/scope"
	"fieldhub.org/internal/workflow"
)

func TestMain(m *testing.M) {
	os.Setenv("FIELDHUB_AUTH_SECRET", "httpapi-test-secret")
	os.Exit(m.Run())
}

type testEnv struct {
	api           *API
	server        *httptest.Server
	actors        *auth.InMemory
	scopes        *scope.InMemory
	store         *workflow.InMemory
	notifications *notify.InMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	actors := auth.NewInMemory()
	scopes := scope.NewInMemory()
	store := workflow.NewInMemory()
	notifications := notify.NewInMemory()
	resolver := auth.NewResolver(actors, auth.WithCacheTTL(0))
	engine := workflow.NewEngine(store, resolver, scopes, notify.NewDispatcher(notifications), nil)

	if _, err := scopes.PutBinding(ctx, "Tuscany", "Italy Hub"); err != nil {
		t.Fatal(err)
	}

	api := New(Config{
		Version:       "test",
		Engine:        engine,
		Actors:        actors,
		Resolver:      resolver,
		Scopes:        scopes,
		Notifications: notifications,
	})
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &testEnv{
		api:           api,
		server:        server,
		actors:        actors,
		scopes:        scopes,
		store:         store,
		notifications: notifications,
	}
}

// seedActor creates an account with a known password and assignments.
func (e *testEnv) seedActor(t *testing.T, email string, areas, hubs []string, roles ...auth.Role) auth.Actor {
	t.Helper()
	ctx := context.Background()
	hash, err := auth.HashPassword("hunter2!")
	if err != nil {
		t.Fatal(err)
	}
	actor, err := e.actors.CreateActor(ctx, email, hash, roles)
	if err != nil {
		t.Fatal(err)
	}
	for _, area := range areas {
		if err := e.actors.AssignArea(ctx, actor.ID, area); err != nil {
			t.Fatal(err)
		}
	}
	for _, hub := range hubs {
		if err := e.actors.AssignHub(ctx, actor.ID, hub); err != nil {
			t.Fatal(err)
		}
	}
	return actor
}

// login exchanges credentials for a bearer token via the real endpoint.
func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": "hunter2!"})
	resp, err := http.Post(e.server.URL+"/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with status %d", resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatal(err)
	}
	return tr.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["service"] != "fieldhub-api" {
		t.Fatalf("unexpected healthz body: %v", body)
	}

	resp, err = http.Get(env.server.URL + "/v1/info")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthRequiredOnItems(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/items/equipment_request", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedActor(t, "staff@fieldhub.org", nil, nil, auth.RoleFieldStaff)

	body, _ := json.Marshal(map[string]string{"email": "staff@fieldhub.org", "password": "wrong"})
	resp, err := http.Post(env.server.URL+"/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// Unknown email must produce the same status as a bad password.
	body, _ = json.Marshal(map[string]string{"email": "ghost@fieldhub.org", "password": "wrong"})
	resp2, err := http.Post(env.server.URL+"/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown email, got %d", resp2.StatusCode)
	}
}

func TestEquipmentRequestLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedActor(t, "staff@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	env.seedActor(t, "opx@fieldhub.org", []string{"Tuscany"}, nil, auth.RoleOPX)
	env.seedActor(t, "hub@fieldhub.org", nil, []string{"Italy Hub"}, auth.RoleHubAdmin)

	staffToken := env.login(t, "staff@fieldhub.org")

	resp := env.do(t, http.MethodPost, "/v1/items/equipment_request", staffToken, map[string]any{
		"ops_area": "Tuscany",
		"payload":  map[string]any{"lines": []map[string]any{{"item": "pallet jack", "qty": 2}}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatal("missing Location header")
	}
	item := decodeBody[workflow.Item](t, resp)
	if item.Status != workflow.StatusPending {
		t.Fatalf("unexpected status %s", item.Status)
	}

	opxToken := env.login(t, "opx@fieldhub.org")
	resp = env.do(t, http.MethodPost,
		fmt.Sprintf("/v1/items/equipment_request/%s/transitions", item.ID),
		opxToken, map[string]any{"event": "approved"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d", resp.StatusCode)
	}
	item = decodeBody[workflow.Item](t, resp)
	if item.Status != workflow.StatusOPXApproved {
		t.Fatalf("unexpected status %s", item.Status)
	}

	hubToken := env.login(t, "hub@fieldhub.org")
	resp = env.do(t, http.MethodPost,
		fmt.Sprintf("/v1/items/equipment_request/%s/transitions", item.ID),
		hubToken, map[string]any{"event": "fulfilled"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fulfill status %d", resp.StatusCode)
	}
	item = decodeBody[workflow.Item](t, resp)
	if item.Status != workflow.StatusFulfilled {
		t.Fatalf("unexpected status %s", item.Status)
	}

	// History carries created, approved, fulfilled.
	resp = env.do(t, http.MethodGet,
		fmt.Sprintf("/v1/items/equipment_request/%s/events", item.ID), staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status %d", resp.StatusCode)
	}
	events := decodeBody[listEventsResponse](t, resp)
	if len(events.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events.Events))
	}

	// The requester was notified about the fulfillment.
	resp = env.do(t, http.MethodGet, "/v1/notifications", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d", resp.StatusCode)
	}
	rows := decodeBody[listNotificationsResponse](t, resp)
	if len(rows.Items) != 1 || rows.UnreadCount != 1 {
		t.Fatalf("unexpected notifications: %+v", rows)
	}
}

func TestTransitionErrorsMapToStatusCodes(t *testing.T) {
	env := newTestEnv(t)
	env.seedActor(t, "staff@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	env.seedActor(t, "opx@fieldhub.org", []string{"Tuscany"}, nil, auth.RoleOPX)
	env.seedActor(t, "outsider@fieldhub.org", nil, nil, auth.RoleOPX)
	staffToken := env.login(t, "staff@fieldhub.org")
	opxToken := env.login(t, "opx@fieldhub.org")
	outsiderToken := env.login(t, "outsider@fieldhub.org")

	resp := env.do(t, http.MethodPost, "/v1/items/equipment_request", staffToken, map[string]any{
		"ops_area": "Tuscany",
		"payload":  map[string]any{"lines": []map[string]any{{"item": "ladder", "qty": 1}}},
	})
	item := decodeBody[workflow.Item](t, resp)

	// Out of scope -> 403.
	resp = env.do(t, http.MethodPost,
		fmt.Sprintf("/v1/items/equipment_request/%s/transitions", item.ID),
		outsiderToken, map[string]any{"event": "approved"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// Illegal transition -> 409.
	resp = env.do(t, http.MethodPost,
		fmt.Sprintf("/v1/items/equipment_request/%s/transitions", item.ID),
		opxToken, map[string]any{"event": "fulfilled"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// Invalid payload -> 400 with field errors.
	resp = env.do(t, http.MethodPost, "/v1/items/cycle_count", staffToken, map[string]any{
		"ops_area": "Tuscany",
		"payload":  map[string]any{"counts": []map[string]any{{"item": "scanner", "expected_qty": 5, "recorded_qty": -1}}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	errBody := decodeBody[map[string]any](t, resp)
	if errBody["fields"] == nil {
		t.Fatalf("expected field errors, got %v", errBody)
	}

	// Unknown family -> 404.
	resp = env.do(t, http.MethodPost, "/v1/items/teleporter_request", staffToken, map[string]any{
		"ops_area": "Tuscany",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// Unknown transition event -> 400.
	resp = env.do(t, http.MethodPost,
		fmt.Sprintf("/v1/items/equipment_request/%s/transitions", item.ID),
		opxToken, map[string]any{"event": "teleported"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListIsScopedPerActor(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.scopes.PutBinding(context.Background(), "Czech", "Prague Hub"); err != nil {
		t.Fatal(err)
	}
	env.seedActor(t, "staff@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	env.seedActor(t, "staff2@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	env.seedActor(t, "opx@fieldhub.org", []string{"Tuscany"}, nil, auth.RoleOPX)

	staffToken := env.login(t, "staff@fieldhub.org")
	staff2Token := env.login(t, "staff2@fieldhub.org")
	opxToken := env.login(t, "opx@fieldhub.org")

	resp := env.do(t, http.MethodPost, "/v1/items/equipment_request", staffToken, map[string]any{
		"ops_area": "Tuscany",
		"payload":  map[string]any{"lines": []map[string]any{{"item": "cart", "qty": 1}}},
	})
	resp.Body.Close()
	resp = env.do(t, http.MethodPost, "/v1/items/equipment_request", staff2Token, map[string]any{
		"ops_area": "Czech",
		"payload":  map[string]any{"lines": []map[string]any{{"item": "cart", "qty": 1}}},
	})
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/items/equipment_request", opxToken, nil)
	items := decodeBody[listItemsResponse](t, resp)
	if len(items.Items) != 1 || items.Items[0].OpsArea != "Tuscany" {
		t.Fatalf("unexpected scoped listing: %+v", items.Items)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedActor(t, "owner@fieldhub.org", nil, nil, auth.RoleFieldStaff)
	env.seedActor(t, "other@fieldhub.org", nil, nil, auth.RoleFieldStaff)

	n, err := env.notifications.Create(context.Background(), notify.Notification{
		ActorID: owner.ID,
		Title:   "Equipment request fulfilled",
		Kind:    notify.KindSuccess,
	})
	if err != nil {
		t.Fatal(err)
	}

	otherToken := env.login(t, "other@fieldhub.org")
	resp := env.do(t, http.MethodPost, "/v1/notifications/"+n.ID+"/read", otherToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign notification, got %d", resp.StatusCode)
	}

	ownerToken := env.login(t, "owner@fieldhub.org")
	resp = env.do(t, http.MethodPost, "/v1/notifications/"+n.ID+"/read", ownerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read status %d", resp.StatusCode)
	}
	read := decodeBody[notify.Notification](t, resp)
	if !read.Read {
		t.Fatal("notification not marked read")
	}

	resp = env.do(t, http.MethodGet, "/v1/notifications/unread_count", ownerToken, nil)
	counts := decodeBody[map[string]int](t, resp)
	if counts["unread_count"] != 0 {
		t.Fatalf("expected zero unread, got %d", counts["unread_count"])
	}
}
