package audit

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	events map[string][]Event // family/itemID -> ordered events
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty event log.
func NewInMemory() *InMemory {
	return &InMemory{events: make(map[string][]Event)}
}

func key(family, itemID string) string { return family + "/" + itemID }

func (s *InMemory) Append(ctx context.Context, e Event) (Event, error) {
	if err := Validate(e); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(e.Family, e.ItemID)
	var lastAt time.Time
	if existing := s.events[k]; len(existing) > 0 {
		lastAt = existing[len(existing)-1].CreatedAt
	}
	e = Stamp(e, lastAt)
	s.events[k] = append(s.events[k], copyEvent(e))
	return e, nil
}

func (s *InMemory) List(ctx context.Context, family, itemID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.events[key(family, itemID)]
	out := make([]Event, 0, len(stored))
	for _, e := range stored {
		out = append(out, copyEvent(e))
	}
	return out, nil
}

// copyEvent detaches the snapshot maps so callers cannot mutate history.
func copyEvent(e Event) Event {
	out := e
	if e.OldValues != nil {
		out.OldValues = make(map[string]any, len(e.OldValues))
		for k, v := range e.OldValues {
			out.OldValues[k] = v
		}
	}
	if e.NewValues != nil {
		out.NewValues = make(map[string]any, len(e.NewValues))
		for k, v := range e.NewValues {
			out.NewValues[k] = v
		}
	}
	return out
}
