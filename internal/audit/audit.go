// Package audit is the append-only transition log. The event sequence per
// item is the authoritative history of that item, not a cache of its
// current row.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldhub.org/internal/ids"
)

// EventType enumerates the recordable transition kinds. Families use a
// subset each.
type EventType string

const (
	EventCreated   EventType = "created"
	EventApproved  EventType = "approved"
	EventRejected  EventType = "rejected"
	EventModified  EventType = "modified"
	EventFulfilled EventType = "fulfilled"
	EventShipped   EventType = "shipped"
	EventComment   EventType = "comment"
	EventCancelled EventType = "cancelled"
	EventValidated EventType = "validated"
)

// KnownEventTypes lists every event type the store accepts.
var KnownEventTypes = []EventType{
	EventCreated, EventApproved, EventRejected, EventModified,
	EventFulfilled, EventShipped, EventComment, EventCancelled,
	EventValidated,
}

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	for _, known := range KnownEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrNotFound     = errors.New("audit: not found")
)

// Event is one immutable record of an accepted transition. OldValues and
// NewValues are structured-but-open snapshots; their keys vary per event
// type and are validated at the boundary, not here.
type Event struct {
	ID        string         `json:"id"`
	Family    string         `json:"family"`
	ItemID    string         `json:"item_id"`
	Type      EventType      `json:"event_type"`
	ActorID   string         `json:"actor_user_id"`
	Note      string         `json:"event_notes,omitempty"`
	OldValues map[string]any `json:"old_values,omitempty"`
	NewValues map[string]any `json:"new_values,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// WithActor is an Event joined with the actor's display label for reads.
type WithActor struct {
	Event
	ActorEmail string `json:"actor_email,omitempty"`
}

// Store is the append-only log. Append assigns id and timestamp; events are
// never edited or deleted. List returns events ascending by creation time,
// ties broken by insertion order.
type Store interface {
	Append(ctx context.Context, e Event) (Event, error)
	List(ctx context.Context, family, itemID string) ([]Event, error)
}

// Validate checks the fields the store requires before an append.
func Validate(e Event) error {
	if strings.TrimSpace(e.Family) == "" {
		return fmt.Errorf("%w: family is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.ActorID) == "" {
		return fmt.Errorf("%w: actor id is required", ErrInvalidEvent)
	}
	if !ValidEventType(e.Type) {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Stamp fills in identifier and timestamp; the timestamp never regresses
// below lastAt so per-item ordering stays monotonic even if the clock
// steps backwards.
func Stamp(e Event, lastAt time.Time) Event {
	e.ID = ids.New()
	now := time.Now().UTC()
	if !now.After(lastAt) {
		now = lastAt.Add(time.Microsecond)
	}
	e.CreatedAt = now
	return e
}
