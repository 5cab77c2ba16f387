package notify

import (
	"context"
	"sync"
	"time"

	"fieldhub.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu   sync.RWMutex
	rows map[string]*Notification
	// byActor preserves creation order per actor.
	byActor map[string][]string
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty notification store.
func NewInMemory() *InMemory {
	return &InMemory{
		rows:    make(map[string]*Notification),
		byActor: make(map[string][]string),
	}
}

func (s *InMemory) Create(ctx context.Context, n Notification) (Notification, error) {
	if err := validate(n); err != nil {
		return Notification{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = ids.New()
	n.Read = false
	n.CreatedAt = time.Now().UTC()
	s.rows[n.ID] = &n
	s.byActor[n.ActorID] = append(s.byActor[n.ActorID], n.ID)
	return n, nil
}

func (s *InMemory) ListForActor(ctx context.Context, actorID string, unreadOnly bool) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idsForActor := s.byActor[actorID]
	out := make([]Notification, 0, len(idsForActor))
	// Newest first.
	for i := len(idsForActor) - 1; i >= 0; i-- {
		n := s.rows[idsForActor[i]]
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (s *InMemory) UnreadCount(ctx context.Context, actorID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byActor[actorID] {
		if !s.rows[id].Read {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) MarkRead(ctx context.Context, id, actorID string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	if n.ActorID != actorID {
		return Notification{}, ErrNotOwner
	}
	n.Read = true
	return *n, nil
}
