package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"fieldhub.org/internal/audit"
	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/scope"
	"fieldhub.org/internal/workflow"
)

type applyRequest struct {
	Event   string            `json:"event"`
	Note    string            `json:"note"`
	Payload *workflow.Payload `json:"payload"`
}

type commentRequest struct {
	Note string `json:"note"`
}

type listItemsResponse struct {
	Items []workflow.Item `json:"items"`
}

type listEventsResponse struct {
	Events []audit.WithActor `json:"events"`
}

// handleItems routes /v1/items/{family}[/{id}[/events|/transitions|/comments]].
func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	if a.engine == nil {
		writeError(w, r, http.StatusServiceUnavailable, "workflow engine unavailable")
		return
	}
	actor, ok := a.currentActor(w, r)
	if !ok {
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/items/"))
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	family := workflow.Family(parts[0])
	if !workflow.ValidFamily(family) {
		writeError(w, r, http.StatusNotFound, "unknown item family")
		return
	}

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			a.listItems(w, r, actor, family)
		case http.MethodPost:
			a.createItem(w, r, actor, family)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case 2:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getItem(w, r, actor, family, parts[1])
	case 3:
		id := parts[1]
		switch parts[2] {
		case "events":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			a.listEvents(w, r, actor, family, id)
		case "transitions":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			a.applyTransition(w, r, actor, family, id)
		case "comments":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			a.addComment(w, r, actor, family, id)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createItem(w http.ResponseWriter, r *http.Request, actor auth.Actor, family workflow.Family) {
	var req workflow.CreateInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	item, err := a.engine.Create(r.Context(), actor.ID, family, req)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/items/"+string(family)+"/"+item.ID)
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) getItem(w http.ResponseWriter, r *http.Request, actor auth.Actor, family workflow.Family, id string) {
	item, err := a.engine.Get(r.Context(), actor.ID, family, id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) listItems(w http.ResponseWriter, r *http.Request, actor auth.Actor, family workflow.Family) {
	filter := workflow.ListFilter{
		Family:  family,
		Status:  workflow.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		OpsArea: strings.TrimSpace(r.URL.Query().Get("ops_area")),
	}
	items, err := a.engine.List(r.Context(), actor.ID, filter)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listItemsResponse{Items: items})
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request, actor auth.Actor, family workflow.Family, id string) {
	events, err := a.engine.History(r.Context(), actor.ID, family, id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	var joined []audit.WithActor
	if a.actors != nil {
		joined, err = audit.JoinActors(r.Context(), events, a.actors)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
	} else {
		joined = make([]audit.WithActor, 0, len(events))
		for _, e := range events {
			joined = append(joined, audit.WithActor{Event: e})
		}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: joined})
}

func (a *API) applyTransition(w http.ResponseWriter, r *http.Request, actor auth.Actor, family workflow.Family, id string) {
	var req applyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	event := audit.EventType(strings.TrimSpace(req.Event))
	if !audit.ValidEventType(event) || event == audit.EventCreated || event == audit.EventComment {
		writeError(w, r, http.StatusBadRequest, "unknown transition event")
		return
	}
	item, err := a.engine.Apply(r.Context(), actor.ID, family, id, event, workflow.ApplyInput{
		Note:    req.Note,
		Payload: req.Payload,
	})
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) addComment(w http.ResponseWriter, r *http.Request, actor auth.Actor, family workflow.Family, id string) {
	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	event, err := a.engine.Comment(r.Context(), actor.ID, family, id, req.Note)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func handleWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	var payloadErr *workflow.InvalidPayloadError
	switch {
	case errors.As(err, &payloadErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid payload",
			"fields": payloadErr.Fields,
		})
	case errors.Is(err, workflow.ErrInvalidPayload), errors.Is(err, audit.ErrInvalidEvent), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrIllegalTransition), errors.Is(err, workflow.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, auth.ErrNotFound), errors.Is(err, audit.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, scope.ErrUnconfiguredArea):
		// Missing binding is an admin problem, surfaced loudly rather than
		// disguised as caller error.
		writeError(w, r, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
