// Package notify creates notification rows for actors. Delivery here means
// row creation; push transport is someone else's problem.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldhub.org/internal/obs"
)

// Kind classifies a notification for presentation.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

var (
	ErrNotFound     = errors.New("notify: not found")
	ErrInvalidInput = errors.New("notify: invalid input")
	// ErrNotOwner means an actor tried to mark someone else's row read.
	ErrNotOwner = errors.New("notify: notification belongs to another actor")
)

// Notification is one row addressed to one actor. Only the target actor
// mutates it, and only by marking it read.
type Notification struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"type"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists notification rows.
type Store interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	ListForActor(ctx context.Context, actorID string, unreadOnly bool) ([]Notification, error)
	UnreadCount(ctx context.Context, actorID string) (int, error)
	// MarkRead flips the read flag; returns ErrNotOwner when actorID does
	// not own the row.
	MarkRead(ctx context.Context, id, actorID string) (Notification, error)
}

// Dispatcher creates notifications as a best-effort side effect of
// workflow transitions.
type Dispatcher struct {
	store Store
}

// NewDispatcher wires a dispatcher to its store.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Notify creates exactly one notification row. Failures are logged and
// swallowed: a lost notification never undoes or fails the transition that
// triggered it, and there is no automatic retry.
func (d *Dispatcher) Notify(ctx context.Context, actorID, title, message string, kind Kind, link string) {
	if d == nil || d.store == nil {
		return
	}
	n := Notification{
		ActorID: strings.TrimSpace(actorID),
		Title:   strings.TrimSpace(title),
		Message: message,
		Kind:    kind,
		Link:    link,
	}
	if _, err := d.store.Create(ctx, n); err != nil {
		obs.LogEntry(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "notification create failed",
			"actor": actorID,
			"title": title,
			"error": err.Error(),
		})
		return
	}
	obs.ObserveNotification()
}

// ValidKind reports whether k is one of the presentation kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindSuccess, KindError, KindWarning, KindInfo:
		return true
	}
	return false
}

func validate(n Notification) error {
	if n.ActorID == "" {
		return fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	if n.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !ValidKind(n.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, n.Kind)
	}
	return nil
}
