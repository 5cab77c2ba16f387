// Command smoke-workflow drives a running fieldhub-api through a full
// equipment request lifecycle: admin provisions actors and a scope
// binding, field staff files a request, OPX approves it, the hub
// fulfills it, and the requester ends up with an unread notification.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

var client = &http.Client{Timeout: 5 * time.Second}

func main() {
	base := os.Getenv("FIELDHUB_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	adminEmail := os.Getenv("FIELDHUB_SMOKE_ADMIN_EMAIL")
	adminPassword := os.Getenv("FIELDHUB_SMOKE_ADMIN_PASSWORD")
	if adminEmail == "" || adminPassword == "" {
		log.Fatal("FIELDHUB_SMOKE_ADMIN_EMAIL and FIELDHUB_SMOKE_ADMIN_PASSWORD are required")
	}

	suffix := rand.New(rand.NewSource(time.Now().UnixNano())).Int31()
	area := fmt.Sprintf("Smoke Area %d", suffix)
	hub := fmt.Sprintf("Smoke Hub %d", suffix)
	password := fmt.Sprintf("smoke-pass-%d", suffix)

	adminToken := login(base, adminEmail, adminPassword)

	call(base, http.MethodPut, "/v1/admin/bindings", adminToken,
		map[string]any{"ops_area": area, "hub": hub}, nil)

	createActor(base, adminToken, fmt.Sprintf("smoke-staff-%d@fieldhub.org", suffix), password, "field_staff")
	opxID := createActor(base, adminToken, fmt.Sprintf("smoke-opx-%d@fieldhub.org", suffix), password, "opx")
	hubID := createActor(base, adminToken, fmt.Sprintf("smoke-hub-%d@fieldhub.org", suffix), password, "hub_admin")
	call(base, http.MethodPost, "/v1/admin/actors/"+opxID+"/areas", adminToken,
		map[string]any{"ops_area": area}, nil)
	call(base, http.MethodPost, "/v1/admin/actors/"+hubID+"/hubs", adminToken,
		map[string]any{"hub": hub}, nil)

	staffToken := login(base, fmt.Sprintf("smoke-staff-%d@fieldhub.org", suffix), password)
	opxToken := login(base, fmt.Sprintf("smoke-opx-%d@fieldhub.org", suffix), password)
	hubToken := login(base, fmt.Sprintf("smoke-hub-%d@fieldhub.org", suffix), password)

	var item struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	call(base, http.MethodPost, "/v1/items/equipment_request", staffToken, map[string]any{
		"ops_area": area,
		"payload": map[string]any{
			"lines": []map[string]any{{"item": "smoke pallet jack", "qty": 1}},
		},
	}, &item)
	if item.Status != "pending" {
		log.Fatalf("created item in status %q, want pending", item.Status)
	}

	call(base, http.MethodPost, "/v1/items/equipment_request/"+item.ID+"/transitions",
		opxToken, map[string]any{"event": "approved"}, &item)
	if item.Status != "opx_approved" {
		log.Fatalf("after approve status %q", item.Status)
	}

	call(base, http.MethodPost, "/v1/items/equipment_request/"+item.ID+"/transitions",
		hubToken, map[string]any{"event": "fulfilled"}, &item)
	if item.Status != "fulfilled" {
		log.Fatalf("after fulfill status %q", item.Status)
	}

	var events struct {
		Events []struct {
			EventType string `json:"event_type"`
		} `json:"events"`
	}
	call(base, http.MethodGet, "/v1/items/equipment_request/"+item.ID+"/events", staffToken, nil, &events)
	if len(events.Events) != 3 {
		log.Fatalf("expected 3 audit events, got %d", len(events.Events))
	}

	var counts struct {
		UnreadCount int `json:"unread_count"`
	}
	call(base, http.MethodGet, "/v1/notifications/unread_count", staffToken, nil, &counts)
	if counts.UnreadCount < 1 {
		log.Fatal("requester has no unread notification after fulfillment")
	}

	fmt.Printf("✅ workflow smoke test passed: item=%s area=%q\n", item.ID, area)
}

func login(base, email, password string) string {
	var resp struct {
		Token string `json:"token"`
	}
	call(base, http.MethodPost, "/v1/auth/token", "",
		map[string]string{"email": email, "password": password}, &resp)
	if resp.Token == "" {
		log.Fatalf("no token for %s", email)
	}
	return resp.Token
}

func createActor(base, adminToken, email, password, role string) string {
	var actor struct {
		ID string `json:"id"`
	}
	call(base, http.MethodPost, "/v1/admin/actors", adminToken, map[string]any{
		"email":    email,
		"password": password,
		"roles":    []string{role},
	}, &actor)
	return actor.ID
}

func call(base, method, path, token string, body, out any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, base+path, &buf)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
