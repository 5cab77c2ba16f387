package workflow

import (
	"context"

	"fieldhub.org/internal/audit"
)

// Store persists workflow items together with their audit log. The two
// writes in each method form one atomic unit: the item mutation commits if
// and only if the event append commits.
type Store interface {
	// CreateItem persists a new item and its `created` event.
	CreateItem(ctx context.Context, item Item, event audit.Event) (Item, audit.Event, error)

	// GetItem loads one item. Returns ErrNotFound.
	GetItem(ctx context.Context, family Family, id string) (Item, error)

	// ListItems returns items matching the filter, newest first.
	ListItems(ctx context.Context, filter ListFilter) ([]Item, error)

	// UpdateItemCAS replaces the item row and appends the event, but only
	// while the stored status still equals expected. A lost race returns
	// ErrConflict and writes nothing.
	UpdateItemCAS(ctx context.Context, item Item, expected Status, event audit.Event) (Item, audit.Event, error)

	// AppendEvent appends an event with no item mutation (comments).
	AppendEvent(ctx context.Context, event audit.Event) (audit.Event, error)

	// ListEvents returns the item's ordered history.
	ListEvents(ctx context.Context, family Family, itemID string) ([]audit.Event, error)
}
