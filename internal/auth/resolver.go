package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ScopeKind selects which scope set an authorization check consults.
type ScopeKind string

const (
	// ScopeNone checks capability only (e.g. field staff creating a request).
	ScopeNone ScopeKind = "none"
	// ScopeArea requires the item's operating area in the reviewer scope.
	ScopeArea ScopeKind = "area"
	// ScopeHub requires the item's resolved hub in the fulfillment scope.
	ScopeHub ScopeKind = "hub"
)

// Scope is the effective set of areas and hubs an actor may act on.
// Wildcard grants everything; it is set only for super_admin.
type Scope struct {
	Wildcard bool
	Areas    map[string]struct{}
	Hubs     map[string]struct{}
}

// CoversArea reports whether the scope includes the operating area.
func (s Scope) CoversArea(area string) bool {
	if s.Wildcard {
		return true
	}
	_, ok := s.Areas[area]
	return ok
}

// CoversHub reports whether the scope includes the hub.
func (s Scope) CoversHub(hub string) bool {
	if s.Wildcard {
		return true
	}
	_, ok := s.Hubs[hub]
	return ok
}

// Capabilities is the resolved view of one actor: role predicates plus
// effective scope. Computed once per request by the Resolver; call sites
// never re-derive it from raw role strings.
type Capabilities struct {
	ActorID string
	roles   map[Role]struct{}
	Scope   Scope
}

func (c Capabilities) has(r Role) bool {
	if _, ok := c.roles[RoleSuperAdmin]; ok {
		return true
	}
	_, ok := c.roles[r]
	return ok
}

func (c Capabilities) IsSuperAdmin() bool { _, ok := c.roles[RoleSuperAdmin]; return ok }
func (c Capabilities) IsAdmin() bool      { return c.has(RoleAdmin) }
func (c Capabilities) IsOPX() bool        { return c.has(RoleOPX) }
func (c Capabilities) IsHubAdmin() bool   { return c.has(RoleHubAdmin) }
func (c Capabilities) IsTPS() bool        { return c.has(RoleTPS) }
func (c Capabilities) IsFieldStaff() bool { return c.has(RoleFieldStaff) }

// HasAny reports whether the actor holds at least one of the roles
// (super_admin always qualifies).
func (c Capabilities) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if c.has(r) {
			return true
		}
	}
	return false
}

// NewCapabilities builds a Capabilities value from raw rows. Exported so
// tests and the in-memory engine wiring can construct one without a Resolver.
func NewCapabilities(actorID string, roles []Role, areas, hubs []string) Capabilities {
	set := make(map[Role]struct{}, len(roles))
	for _, r := range NormalizeRoles(roles) {
		set[r] = struct{}{}
	}
	scope := Scope{
		Areas: make(map[string]struct{}, len(areas)),
		Hubs:  make(map[string]struct{}, len(hubs)),
	}
	if _, ok := set[RoleSuperAdmin]; ok {
		scope.Wildcard = true
	}
	for _, a := range areas {
		if a = strings.TrimSpace(a); a != "" {
			scope.Areas[a] = struct{}{}
		}
	}
	for _, h := range hubs {
		if h = strings.TrimSpace(h); h != "" {
			scope.Hubs[h] = struct{}{}
		}
	}
	return Capabilities{ActorID: actorID, roles: set, Scope: scope}
}

// Resolver computes effective capabilities for actors. Results are cached
// with a short TTL: assignment changes are rare and are not safety-critical
// within a single request's authorization window.
type Resolver struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedCaps
}

type cachedCaps struct {
	caps    Capabilities
	expires time.Time
}

const defaultResolverTTL = 30 * time.Second

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL overrides the capability cache TTL. Zero disables caching.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) { r.ttl = ttl }
}

func withClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver constructs a Resolver backed by the given store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store: store,
		ttl:   defaultResolverTTL,
		now:   time.Now,
		cache: make(map[string]cachedCaps),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads the actor's roles and assignment rows and returns the
// effective capabilities. A disabled actor resolves to ErrForbidden.
func (r *Resolver) Resolve(ctx context.Context, actorID string) (Capabilities, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Capabilities{}, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}

	if r.ttl > 0 {
		r.mu.Lock()
		if entry, ok := r.cache[actorID]; ok && r.now().Before(entry.expires) {
			r.mu.Unlock()
			return entry.caps, nil
		}
		r.mu.Unlock()
	}

	actor, err := r.store.GetActor(ctx, actorID)
	if err != nil {
		return Capabilities{}, err
	}
	if actor.Status != ActorStatusActive {
		return Capabilities{}, fmt.Errorf("%w: actor is disabled", ErrForbidden)
	}

	areaRows, err := r.store.AreaAssignments(ctx, actorID)
	if err != nil {
		return Capabilities{}, err
	}
	hubRows, err := r.store.HubAssignments(ctx, actorID)
	if err != nil {
		return Capabilities{}, err
	}

	areas := make([]string, 0, len(areaRows))
	for _, row := range areaRows {
		areas = append(areas, row.OpsArea)
	}
	hubs := make([]string, 0, len(hubRows))
	for _, row := range hubRows {
		hubs = append(hubs, row.Hub)
	}

	caps := NewCapabilities(actor.ID, actor.Roles, areas, hubs)
	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[actorID] = cachedCaps{caps: caps, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return caps, nil
}

// Invalidate drops the cached capabilities for an actor. Admin mutation
// paths call it so revocations take effect without waiting out the TTL.
func (r *Resolver) Invalidate(actorID string) {
	r.mu.Lock()
	delete(r.cache, actorID)
	r.mu.Unlock()
}

// CanAct is the single authorization check for workflow transitions.
// The capability must hold AND, when kind selects a scope, the target must
// be inside the matching scope set. Capability alone never grants scope.
func CanAct(caps Capabilities, anyOf []Role, kind ScopeKind, area, hub string) error {
	if !caps.HasAny(anyOf...) {
		return fmt.Errorf("%w: missing capability", ErrForbidden)
	}
	switch kind {
	case ScopeNone:
		return nil
	case ScopeArea:
		if !caps.Scope.CoversArea(area) {
			return fmt.Errorf("%w: operating area %q outside reviewer scope", ErrForbidden, area)
		}
		return nil
	case ScopeHub:
		if !caps.Scope.CoversHub(hub) {
			return fmt.Errorf("%w: hub %q outside fulfillment scope", ErrForbidden, hub)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown scope kind %q", ErrInvalidInput, kind)
	}
}
