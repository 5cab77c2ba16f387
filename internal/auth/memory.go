package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fieldhub.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
// Used for local runs and tests; the pg store is the durable counterpart.
type InMemory struct {
	mu      sync.RWMutex
	actors  map[string]*Actor
	byEmail map[string]string
	areas   map[string]map[string]AreaAssignment // actorID -> opsArea -> row
	hubs    map[string]map[string]HubAssignment  // actorID -> hub -> row
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty actor store.
func NewInMemory() *InMemory {
	return &InMemory{
		actors:  make(map[string]*Actor),
		byEmail: make(map[string]string),
		areas:   make(map[string]map[string]AreaAssignment),
		hubs:    make(map[string]map[string]HubAssignment),
	}
}

func (s *InMemory) CreateActor(ctx context.Context, email, passwordHash string, roles []Role) (Actor, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return Actor{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	roles = NormalizeRoles(roles)
	for _, r := range roles {
		if !ValidRole(r) {
			return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, r)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return Actor{}, ErrAlreadyExists
	}
	now := time.Now().UTC()
	actor := &Actor{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        roles,
		Status:       ActorStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.actors[actor.ID] = actor
	s.byEmail[email] = actor.ID
	return copyActor(actor), nil
}

func (s *InMemory) GetActor(ctx context.Context, id string) (Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actor, ok := s.actors[id]
	if !ok {
		return Actor{}, ErrNotFound
	}
	return copyActor(actor), nil
}

func (s *InMemory) GetActorByEmail(ctx context.Context, email string) (Actor, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return Actor{}, ErrNotFound
	}
	return copyActor(s.actors[id]), nil
}

func (s *InMemory) ListActors(ctx context.Context) ([]Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Actor, 0, len(s.actors))
	for _, actor := range s.actors {
		out = append(out, copyActor(actor))
	}
	return out, nil
}

func (s *InMemory) SetActorRoles(ctx context.Context, id string, roles []Role) (Actor, error) {
	roles = NormalizeRoles(roles)
	for _, r := range roles {
		if !ValidRole(r) {
			return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, r)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	actor, ok := s.actors[id]
	if !ok {
		return Actor{}, ErrNotFound
	}
	actor.Roles = roles
	actor.UpdatedAt = time.Now().UTC()
	return copyActor(actor), nil
}

func (s *InMemory) SetActorStatus(ctx context.Context, id, status string) (Actor, error) {
	if status != ActorStatusActive && status != ActorStatusDisabled {
		return Actor{}, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	actor, ok := s.actors[id]
	if !ok {
		return Actor{}, ErrNotFound
	}
	actor.Status = status
	actor.UpdatedAt = time.Now().UTC()
	return copyActor(actor), nil
}

func (s *InMemory) AreaAssignments(ctx context.Context, actorID string) ([]AreaAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]AreaAssignment, 0, len(s.areas[actorID]))
	for _, row := range s.areas[actorID] {
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *InMemory) HubAssignments(ctx context.Context, actorID string) ([]HubAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]HubAssignment, 0, len(s.hubs[actorID]))
	for _, row := range s.hubs[actorID] {
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *InMemory) AssignArea(ctx context.Context, actorID, opsArea string) error {
	opsArea = strings.TrimSpace(opsArea)
	if opsArea == "" {
		return fmt.Errorf("%w: ops_area is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[actorID]; !ok {
		return ErrNotFound
	}
	if s.areas[actorID] == nil {
		s.areas[actorID] = make(map[string]AreaAssignment)
	}
	s.areas[actorID][opsArea] = AreaAssignment{ActorID: actorID, OpsArea: opsArea, CreatedAt: time.Now().UTC()}
	return nil
}

func (s *InMemory) RevokeArea(ctx context.Context, actorID, opsArea string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.areas[actorID], strings.TrimSpace(opsArea))
	return nil
}

func (s *InMemory) AssignHub(ctx context.Context, actorID, hub string) error {
	hub = strings.TrimSpace(hub)
	if hub == "" {
		return fmt.Errorf("%w: hub is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[actorID]; !ok {
		return ErrNotFound
	}
	if s.hubs[actorID] == nil {
		s.hubs[actorID] = make(map[string]HubAssignment)
	}
	s.hubs[actorID][hub] = HubAssignment{ActorID: actorID, Hub: hub, CreatedAt: time.Now().UTC()}
	return nil
}

func (s *InMemory) RevokeHub(ctx context.Context, actorID, hub string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hubs[actorID], strings.TrimSpace(hub))
	return nil
}

func copyActor(a *Actor) Actor {
	out := *a
	out.Roles = append([]Role(nil), a.Roles...)
	return out
}
