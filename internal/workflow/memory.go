package workflow

import (
	"context"
	"sort"
	"sync"

	"fieldhub.org/internal/audit"
)

// InMemory implements Store with in-process concurrency safety. The mutex
// makes the item write and the event append one atomic unit; the pg store
// uses a transaction for the same guarantee.
type InMemory struct {
	mu     sync.RWMutex
	items  map[string]*Item // family/id
	order  []string
	events *audit.InMemory
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store with its own event log.
func NewInMemory() *InMemory {
	return &InMemory{
		items:  make(map[string]*Item),
		events: audit.NewInMemory(),
	}
}

// Events exposes the underlying audit log for read-side joins.
func (s *InMemory) Events() audit.Store { return s.events }

func itemKey(family Family, id string) string { return string(family) + "/" + id }

func (s *InMemory) CreateItem(ctx context.Context, item Item, event audit.Event) (Item, audit.Event, error) {
	if err := audit.Validate(event); err != nil {
		return Item{}, audit.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := itemKey(item.Family, item.ID)
	if _, exists := s.items[k]; exists {
		return Item{}, audit.Event{}, ErrConflict
	}
	stored, err := s.events.Append(ctx, event)
	if err != nil {
		return Item{}, audit.Event{}, err
	}
	cp := copyItem(item)
	s.items[k] = &cp
	s.order = append(s.order, k)
	return copyItem(cp), stored, nil
}

func (s *InMemory) GetItem(ctx context.Context, family Family, id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemKey(family, id)]
	if !ok {
		return Item{}, ErrNotFound
	}
	return copyItem(*item), nil
}

func (s *InMemory) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0)
	for _, k := range s.order {
		item := s.items[k]
		if filter.Family != "" && item.Family != filter.Family {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.OpsArea != "" && item.OpsArea != filter.OpsArea {
			continue
		}
		if filter.CreatedBy != "" && item.CreatedBy != filter.CreatedBy {
			continue
		}
		out = append(out, copyItem(*item))
	}
	// Newest first; creation order is the insertion order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) UpdateItemCAS(ctx context.Context, item Item, expected Status, event audit.Event) (Item, audit.Event, error) {
	if err := audit.Validate(event); err != nil {
		return Item{}, audit.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := itemKey(item.Family, item.ID)
	current, ok := s.items[k]
	if !ok {
		return Item{}, audit.Event{}, ErrNotFound
	}
	if current.Status != expected {
		return Item{}, audit.Event{}, ErrConflict
	}
	stored, err := s.events.Append(ctx, event)
	if err != nil {
		return Item{}, audit.Event{}, err
	}
	cp := copyItem(item)
	s.items[k] = &cp
	return copyItem(cp), stored, nil
}

func (s *InMemory) AppendEvent(ctx context.Context, event audit.Event) (audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemKey(Family(event.Family), event.ItemID)]; !ok {
		return audit.Event{}, ErrNotFound
	}
	return s.events.Append(ctx, event)
}

func (s *InMemory) ListEvents(ctx context.Context, family Family, itemID string) ([]audit.Event, error) {
	return s.events.List(ctx, string(family), itemID)
}
