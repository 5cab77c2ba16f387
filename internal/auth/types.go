package auth

import (
	"context"
	"strings"
	"time"
)

// Role is a global capability grant. Scope (which areas or hubs a role may
// act on) is carried separately by assignment rows.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RoleFieldStaff Role = "field_staff"
	RoleOPX        Role = "opx"
	RoleHubAdmin   Role = "hub_admin"
	RoleTPS        Role = "tps"
	RoleUser       Role = "user"
)

const (
	ActorStatusActive   = "active"
	ActorStatusDisabled = "disabled"
)

// KnownRoles lists every role the service accepts.
var KnownRoles = []Role{
	RoleAdmin,
	RoleSuperAdmin,
	RoleFieldStaff,
	RoleOPX,
	RoleHubAdmin,
	RoleTPS,
	RoleUser,
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	for _, known := range KnownRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Actor is a staff account. Actors are never hard-deleted; revoking
// assignments and disabling the account is the retirement path.
type Actor struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasRole reports whether the actor carries the role directly.
// It does not apply super_admin implication; use Capabilities for that.
func (a Actor) HasRole(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// AreaAssignment scopes a reviewer to one operating area.
type AreaAssignment struct {
	ActorID   string    `json:"actor_id"`
	OpsArea   string    `json:"ops_area"`
	CreatedAt time.Time `json:"created_at"`
}

// HubAssignment scopes a fulfillment actor to one hub.
type HubAssignment struct {
	ActorID   string    `json:"actor_id"`
	Hub       string    `json:"hub"`
	CreatedAt time.Time `json:"created_at"`
}

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	CreateActor(ctx context.Context, email, passwordHash string, roles []Role) (Actor, error)
	GetActor(ctx context.Context, id string) (Actor, error)
	GetActorByEmail(ctx context.Context, email string) (Actor, error)
	ListActors(ctx context.Context) ([]Actor, error)
	SetActorRoles(ctx context.Context, id string, roles []Role) (Actor, error)
	SetActorStatus(ctx context.Context, id, status string) (Actor, error)

	AreaAssignments(ctx context.Context, actorID string) ([]AreaAssignment, error)
	HubAssignments(ctx context.Context, actorID string) ([]HubAssignment, error)
	AssignArea(ctx context.Context, actorID, opsArea string) error
	RevokeArea(ctx context.Context, actorID, opsArea string) error
	AssignHub(ctx context.Context, actorID, hub string) error
	RevokeHub(ctx context.Context, actorID, hub string) error
}

// NormalizeRoles trims, lowercases and deduplicates a role list,
// preserving first-seen order.
func NormalizeRoles(roles []Role) []Role {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		r = Role(strings.ToLower(strings.TrimSpace(string(r))))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
