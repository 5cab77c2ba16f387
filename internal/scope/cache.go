package scope

import (
	"context"
	"sync"
	"time"
)

const defaultCacheTTL = 30 * time.Second

// Cached wraps a Directory with a short-TTL read cache. Routing data is
// read-mostly; serving a slightly stale binding inside one request's
// authorization window is acceptable. Writes pass through and drop the
// cached view.
type Cached struct {
	next Directory
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	byArea   map[string]cachedHub
	dirtyAll bool
}

type cachedHub struct {
	hub     string
	err     error
	expires time.Time
}

// NewCached wraps next with a TTL cache. A non-positive ttl falls back to
// the default.
func NewCached(next Directory, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{
		next:   next,
		ttl:    ttl,
		now:    time.Now,
		byArea: make(map[string]cachedHub),
	}
}

var _ Directory = (*Cached)(nil)

func (c *Cached) HubFor(ctx context.Context, opsArea string) (string, error) {
	c.mu.Lock()
	if entry, ok := c.byArea[opsArea]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.hub, entry.err
	}
	c.mu.Unlock()

	hub, err := c.next.HubFor(ctx, opsArea)
	// Cache ErrUnconfiguredArea too: a missing binding is as stable as a
	// present one, and hammering the store does not fix routing data.
	c.mu.Lock()
	c.byArea[opsArea] = cachedHub{hub: hub, err: err, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return hub, err
}

func (c *Cached) AllOpsAreas(ctx context.Context) ([]string, error) {
	return c.next.AllOpsAreas(ctx)
}

func (c *Cached) ListBindings(ctx context.Context) ([]Binding, error) {
	return c.next.ListBindings(ctx)
}

func (c *Cached) PutBinding(ctx context.Context, opsArea, hub string) (Binding, error) {
	b, err := c.next.PutBinding(ctx, opsArea, hub)
	if err == nil {
		c.invalidate(opsArea)
	}
	return b, err
}

func (c *Cached) DeleteBinding(ctx context.Context, opsArea string) error {
	err := c.next.DeleteBinding(ctx, opsArea)
	if err == nil {
		c.invalidate(opsArea)
	}
	return err
}

func (c *Cached) invalidate(opsArea string) {
	c.mu.Lock()
	delete(c.byArea, opsArea)
	c.mu.Unlock()
}
