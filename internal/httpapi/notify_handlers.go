package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fieldhub.org/internal/notify"
)

type listNotificationsResponse struct {
	Items       []notify.Notification `json:"items"`
	UnreadCount int                   `json:"unread_count"`
}

func (a *API) handleNotificationsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.notifications == nil {
		writeError(w, r, http.StatusServiceUnavailable, "notifications unavailable")
		return
	}
	actor, ok := a.currentActor(w, r)
	if !ok {
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	items, err := a.notifications.ListForActor(r.Context(), actor.ID, unreadOnly)
	if err != nil {
		handleNotifyError(w, r, err)
		return
	}
	count, err := a.notifications.UnreadCount(r.Context(), actor.ID)
	if err != nil {
		handleNotifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listNotificationsResponse{Items: items, UnreadCount: count})
}

// handleNotificationResource routes /v1/notifications/{id}/read and
// /v1/notifications/unread_count.
func (a *API) handleNotificationResource(w http.ResponseWriter, r *http.Request) {
	if a.notifications == nil {
		writeError(w, r, http.StatusServiceUnavailable, "notifications unavailable")
		return
	}
	actor, ok := a.currentActor(w, r)
	if !ok {
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/notifications/"))
	switch {
	case len(parts) == 1 && parts[0] == "unread_count":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		count, err := a.notifications.UnreadCount(r.Context(), actor.ID)
		if err != nil {
			handleNotifyError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
	case len(parts) == 2 && parts[1] == "read":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		n, err := a.notifications.MarkRead(r.Context(), parts[0], actor.ID)
		if err != nil {
			handleNotifyError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func handleNotifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notify.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, notify.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, notify.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
