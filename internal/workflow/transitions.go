package workflow

import (
	"fieldhub.org/internal/audit"
	"fieldhub.org/internal/auth"
	"fieldhub.org/internal/notify"
)

// ScopeRule selects which scope check a transition requires.
type ScopeRule int

const (
	// ScopeRuleNone checks capability only.
	ScopeRuleNone ScopeRule = iota
	// ScopeRuleArea requires the item's operating area in reviewer scope.
	ScopeRuleArea
	// ScopeRuleHub requires the item's bound hub in fulfillment scope.
	ScopeRuleHub
	// ScopeRuleAreaEither passes when either the move's source or target
	// area is in reviewer scope.
	ScopeRuleAreaEither
)

type transitionKey struct {
	status Status
	event  audit.EventType
}

// NotifySpec addresses the item's original requester after the transition
// commits. The decline or rejection note, when present, is embedded in the
// message.
type NotifySpec struct {
	Kind  notify.Kind
	Title string
}

// Transition is one row of a family's state machine:
// (currentStatus, eventType) -> next status plus the authorization and
// side-effect requirements. Absence of a row means the transition is
// illegal; there is no default.
type Transition struct {
	Next        Status
	Roles       []auth.Role
	Scope       ScopeRule
	RequireNote bool
	// RequireOwner restricts the transition to the item's creator
	// (admins exempt); used for requester edits and draft actions.
	RequireOwner bool
	// SetCompleted / SetCancelled stamp the matching resolution timestamp,
	// exactly once.
	SetCompleted bool
	SetCancelled bool
	Notify       *NotifySpec
	// Sync propagates the committed state to the external inventory system
	// (best-effort, after the atomic unit).
	Sync bool
}

type familySpec struct {
	initial Status
	// draftInitial, when set, is used for CreateInput.Draft.
	draftInitial Status
	createRoles  []auth.Role
	transitions  map[transitionKey]Transition
}

var families = map[Family]familySpec{
	FamilyEquipmentRequest: {
		initial:     StatusPending,
		createRoles: []auth.Role{auth.RoleFieldStaff},
		transitions: map[transitionKey]Transition{
			{StatusPending, audit.EventApproved}: {
				Next:  StatusOPXApproved,
				Roles: []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope: ScopeRuleArea,
			},
			{StatusPending, audit.EventRejected}: {
				Next:        StatusOPXRejected,
				Roles:       []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope:       ScopeRuleArea,
				RequireNote: true,
				Notify:      &NotifySpec{Kind: notify.KindError, Title: "Equipment request rejected"},
			},
			// Requester edits while the review is still open; flags the
			// request for a fresh opx pass.
			{StatusPending, audit.EventModified}: {
				Next:         StatusPendingOPX,
				Roles:        []auth.Role{auth.RoleFieldStaff, auth.RoleAdmin},
				Scope:        ScopeRuleNone,
				RequireOwner: true,
			},
			{StatusPendingOPX, audit.EventApproved}: {
				Next:  StatusOPXApproved,
				Roles: []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope: ScopeRuleArea,
			},
			{StatusPendingOPX, audit.EventRejected}: {
				Next:        StatusOPXRejected,
				Roles:       []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope:       ScopeRuleArea,
				RequireNote: true,
				Notify:      &NotifySpec{Kind: notify.KindError, Title: "Equipment request rejected"},
			},
			{StatusPendingOPX, audit.EventModified}: {
				Next:         StatusPendingOPX,
				Roles:        []auth.Role{auth.RoleFieldStaff, auth.RoleAdmin},
				Scope:        ScopeRuleNone,
				RequireOwner: true,
			},
			// Requester revises a rejected request back into review.
			{StatusOPXRejected, audit.EventModified}: {
				Next:         StatusPendingOPX,
				Roles:        []auth.Role{auth.RoleFieldStaff, auth.RoleAdmin},
				Scope:        ScopeRuleNone,
				RequireOwner: true,
			},
			{StatusOPXApproved, audit.EventFulfilled}: {
				Next:   StatusFulfilled,
				Roles:  []auth.Role{auth.RoleHubAdmin, auth.RoleAdmin},
				Scope:  ScopeRuleHub,
				Notify: &NotifySpec{Kind: notify.KindSuccess, Title: "Equipment request fulfilled"},
				Sync:   true,
			},
			// Hub decline; the reason reaches the requester in the message.
			{StatusOPXApproved, audit.EventRejected}: {
				Next:        StatusDeclined,
				Roles:       []auth.Role{auth.RoleHubAdmin, auth.RoleAdmin},
				Scope:       ScopeRuleHub,
				RequireNote: true,
				Notify:      &NotifySpec{Kind: notify.KindError, Title: "Equipment request declined"},
			},
		},
	},

	FamilyCycleCount: {
		initial:     StatusSubmitted,
		createRoles: []auth.Role{auth.RoleFieldStaff},
		transitions: map[transitionKey]Transition{
			{StatusSubmitted, audit.EventValidated}: {
				Next:   StatusValidated,
				Roles:  []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope:  ScopeRuleArea,
				Notify: &NotifySpec{Kind: notify.KindSuccess, Title: "Cycle count validated"},
				Sync:   true,
			},
			{StatusSubmitted, audit.EventRejected}: {
				Next:        StatusRejected,
				Roles:       []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope:       ScopeRuleArea,
				RequireNote: true,
				Notify:      &NotifySpec{Kind: notify.KindError, Title: "Cycle count rejected"},
			},
		},
	},

	FamilyBrokenItemReport: {
		initial:     StatusOpen,
		createRoles: []auth.Role{auth.RoleFieldStaff},
		transitions: map[transitionKey]Transition{
			{StatusOpen, audit.EventModified}: {
				Next:  StatusInMaintenance,
				Roles: []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope: ScopeRuleArea,
			},
			{StatusInMaintenance, audit.EventModified}: {
				Next:   StatusResolved,
				Roles:  []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope:  ScopeRuleArea,
				Notify: &NotifySpec{Kind: notify.KindSuccess, Title: "Broken-item report resolved"},
				Sync:   true,
			},
		},
	},

	FamilyMaintenanceRecord: {
		initial:     StatusOpen,
		createRoles: []auth.Role{auth.RoleFieldStaff, auth.RoleOPX},
		transitions: map[transitionKey]Transition{
			{StatusOpen, audit.EventFulfilled}: {
				Next:         StatusCompleted,
				Roles:        []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope:        ScopeRuleArea,
				SetCompleted: true,
				Sync:         true,
			},
		},
	},

	FamilyInventoryMove: {
		initial:      StatusSubmitted,
		draftInitial: StatusDraft,
		createRoles:  []auth.Role{auth.RoleFieldStaff, auth.RoleOPX},
		transitions: map[transitionKey]Transition{
			{StatusDraft, audit.EventModified}: {
				Next:         StatusSubmitted,
				Roles:        []auth.Role{auth.RoleFieldStaff, auth.RoleOPX, auth.RoleAdmin},
				Scope:        ScopeRuleNone,
				RequireOwner: true,
			},
			{StatusDraft, audit.EventCancelled}: {
				Next:         StatusCancelled,
				Roles:        []auth.Role{auth.RoleFieldStaff, auth.RoleOPX, auth.RoleAdmin},
				Scope:        ScopeRuleNone,
				RequireOwner: true,
				SetCancelled: true,
			},
			{StatusSubmitted, audit.EventFulfilled}: {
				Next:         StatusCompleted,
				Roles:        []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope:        ScopeRuleAreaEither,
				SetCompleted: true,
				Notify:       &NotifySpec{Kind: notify.KindSuccess, Title: "Inventory move completed"},
				Sync:         true,
			},
			{StatusSubmitted, audit.EventCancelled}: {
				Next:         StatusCancelled,
				Roles:        []auth.Role{auth.RoleOPX, auth.RoleAdmin},
				Scope:        ScopeRuleAreaEither,
				SetCancelled: true,
				Notify:       &NotifySpec{Kind: notify.KindWarning, Title: "Inventory move cancelled"},
			},
		},
	},
}

// lookup returns the transition row for (family, status, event).
func lookup(f Family, status Status, event audit.EventType) (Transition, bool) {
	spec, ok := families[f]
	if !ok {
		return Transition{}, false
	}
	tr, ok := spec.transitions[transitionKey{status, event}]
	return tr, ok
}

// InitialStatus returns the status Create assigns for the family.
func InitialStatus(f Family, draft bool) (Status, bool) {
	spec, ok := families[f]
	if !ok {
		return "", false
	}
	if draft && spec.draftInitial != "" {
		return spec.draftInitial, true
	}
	return spec.initial, true
}
