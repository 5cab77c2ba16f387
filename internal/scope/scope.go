// Package scope holds the administered routing data: which fulfillment hub
// serves which operating area. The workflow engine only reads it; mutations
// are admin operations outside the transition hot path.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUnconfiguredArea means an operating area has no hub binding. This is a
// configuration error an admin must fix, not a workflow error to retry.
var ErrUnconfiguredArea = errors.New("scope: operating area has no hub binding")

// ErrNotFound is returned for lookups of bindings that do not exist.
var ErrNotFound = errors.New("scope: not found")

// Binding maps one operating area to exactly one hub (many areas may share
// a hub).
type Binding struct {
	OpsArea   string    `json:"ops_area"`
	Hub       string    `json:"hub"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Directory is the read/write surface over the area→hub mapping.
type Directory interface {
	// HubFor resolves the fulfillment hub for an operating area.
	// Returns ErrUnconfiguredArea when no binding exists.
	HubFor(ctx context.Context, opsArea string) (string, error)
	// AllOpsAreas lists every bound operating area, sorted.
	AllOpsAreas(ctx context.Context) ([]string, error)
	// ListBindings returns all bindings sorted by area.
	ListBindings(ctx context.Context) ([]Binding, error)
	// PutBinding creates or replaces the binding for an area.
	PutBinding(ctx context.Context, opsArea, hub string) (Binding, error)
	// DeleteBinding removes the binding for an area.
	DeleteBinding(ctx context.Context, opsArea string) error
}

// InMemory implements Directory with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

var _ Directory = (*InMemory)(nil)

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{bindings: make(map[string]Binding)}
}

func (d *InMemory) HubFor(ctx context.Context, opsArea string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bindings[strings.TrimSpace(opsArea)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnconfiguredArea, opsArea)
	}
	return b.Hub, nil
}

func (d *InMemory) AllOpsAreas(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	areas := make([]string, 0, len(d.bindings))
	for area := range d.bindings {
		areas = append(areas, area)
	}
	sort.Strings(areas)
	return areas, nil
}

func (d *InMemory) ListBindings(ctx context.Context) ([]Binding, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Binding, 0, len(d.bindings))
	for _, b := range d.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpsArea < out[j].OpsArea })
	return out, nil
}

func (d *InMemory) PutBinding(ctx context.Context, opsArea, hub string) (Binding, error) {
	opsArea = strings.TrimSpace(opsArea)
	hub = strings.TrimSpace(hub)
	if opsArea == "" || hub == "" {
		return Binding{}, errors.New("scope: ops_area and hub are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := Binding{OpsArea: opsArea, Hub: hub, UpdatedAt: time.Now().UTC()}
	d.bindings[opsArea] = b
	return b, nil
}

func (d *InMemory) DeleteBinding(ctx context.Context, opsArea string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	opsArea = strings.TrimSpace(opsArea)
	if _, ok := d.bindings[opsArea]; !ok {
		return ErrNotFound
	}
	delete(d.bindings, opsArea)
	return nil
}
