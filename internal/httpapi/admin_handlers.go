package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/scope"
)

type putBindingRequest struct {
	OpsArea string `json:"ops_area"`
	Hub     string `json:"hub"`
}

type createActorRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type assignmentRequest struct {
	OpsArea string `json:"ops_area,omitempty"`
	Hub     string `json:"hub,omitempty"`
}

type actorDetailResponse struct {
	Actor auth.Actor            `json:"actor"`
	Areas []auth.AreaAssignment `json:"areas"`
	Hubs  []auth.HubAssignment  `json:"hubs"`
}

// requireAdmin resolves the caller's capabilities and rejects non-admins.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor, ok := a.currentActor(w, r)
	if !ok {
		return false
	}
	if a.resolver == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
		return false
	}
	caps, err := a.resolver.Resolve(r.Context(), actor.ID)
	if err != nil {
		handleWorkflowError(w, r, err)
		return false
	}
	if !caps.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return false
	}
	return true
}

// --- scope bindings ---

func (a *API) handleBindingsCollection(w http.ResponseWriter, r *http.Request) {
	if a.scopes == nil {
		writeError(w, r, http.StatusServiceUnavailable, "scope directory unavailable")
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		bindings, err := a.scopes.ListBindings(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
	case http.MethodPut, http.MethodPost:
		var req putBindingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		binding, err := a.scopes.PutBinding(r.Context(), req.OpsArea, req.Hub)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, binding)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodPost)
	}
}

func (a *API) handleBindingResource(w http.ResponseWriter, r *http.Request) {
	if a.scopes == nil {
		writeError(w, r, http.StatusServiceUnavailable, "scope directory unavailable")
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	area := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/bindings/"), "/")
	if area == "" || strings.Contains(area, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		hub, err := a.scopes.HubFor(r.Context(), area)
		if err != nil {
			if errors.Is(err, scope.ErrUnconfiguredArea) {
				writeError(w, r, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"ops_area": area, "hub": hub})
	case http.MethodDelete:
		if err := a.scopes.DeleteBinding(r.Context(), area); err != nil {
			if errors.Is(err, scope.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// --- actors ---

func (a *API) handleActorsCollection(w http.ResponseWriter, r *http.Request) {
	if a.actors == nil {
		writeError(w, r, http.StatusServiceUnavailable, "actor store unavailable")
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		actors, err := a.actors.ListActors(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"actors": actors})
	case http.MethodPost:
		var req createActorRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Password) == "" {
			writeError(w, r, http.StatusBadRequest, "password is required")
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		actor, err := a.actors.CreateActor(r.Context(), req.Email, hash, toRoles(req.Roles))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/admin/actors/"+actor.ID)
		writeJSON(w, http.StatusCreated, actor)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleActorResource routes /v1/admin/actors/{id}[/roles|/status|/areas[/{area}]|/hubs[/{hub}]].
func (a *API) handleActorResource(w http.ResponseWriter, r *http.Request) {
	if a.actors == nil {
		writeError(w, r, http.StatusServiceUnavailable, "actor store unavailable")
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/admin/actors/"))
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := parts[0]

	switch len(parts) {
	case 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getActorDetail(w, r, id)
	case 2:
		switch parts[1] {
		case "roles":
			a.setActorRoles(w, r, id)
		case "status":
			a.setActorStatus(w, r, id)
		case "areas":
			a.assignActorArea(w, r, id)
		case "hubs":
			a.assignActorHub(w, r, id)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	case 3:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		switch parts[1] {
		case "areas":
			a.revokeActorArea(w, r, id, parts[2])
		case "hubs":
			a.revokeActorHub(w, r, id, parts[2])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getActorDetail(w http.ResponseWriter, r *http.Request, id string) {
	actor, err := a.actors.GetActor(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	areas, err := a.actors.AreaAssignments(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	hubs, err := a.actors.HubAssignments(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actorDetailResponse{Actor: actor, Areas: areas, Hubs: hubs})
}

func (a *API) setActorRoles(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req setRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := a.actors.SetActorRoles(r.Context(), id, toRoles(req.Roles))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.invalidateCaps(id)
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) setActorStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := a.actors.SetActorStatus(r.Context(), id, strings.TrimSpace(req.Status))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.invalidateCaps(id)
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) assignActorArea(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req assignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.actors.AssignArea(r.Context(), id, req.OpsArea); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.invalidateCaps(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeActorArea(w http.ResponseWriter, r *http.Request, id, area string) {
	if err := a.actors.RevokeArea(r.Context(), id, area); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.invalidateCaps(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) assignActorHub(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req assignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.actors.AssignHub(r.Context(), id, req.Hub); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.invalidateCaps(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeActorHub(w http.ResponseWriter, r *http.Request, id, hub string) {
	if err := a.actors.RevokeHub(r.Context(), id, hub); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.invalidateCaps(id)
	w.WriteHeader(http.StatusNoContent)
}

// invalidateCaps drops the resolver's cached capabilities so role and
// assignment edits take effect immediately.
func (a *API) invalidateCaps(actorID string) {
	if a.resolver != nil {
		a.resolver.Invalidate(actorID)
	}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func toRoles(raw []string) []auth.Role {
	roles := make([]auth.Role, 0, len(raw))
	for _, r := range raw {
		roles = append(roles, auth.Role(r))
	}
	return roles
}
