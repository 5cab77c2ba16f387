package workflow

import (
	"time"
)

// Family tags one of the five request-like entity kinds sharing the engine.
type Family string

const (
	FamilyEquipmentRequest  Family = "equipment_request"
	FamilyCycleCount        Family = "cycle_count"
	FamilyBrokenItemReport  Family = "broken_item_report"
	FamilyMaintenanceRecord Family = "maintenance_record"
	FamilyInventoryMove     Family = "inventory_move"
)

// KnownFamilies lists every family the engine serves.
var KnownFamilies = []Family{
	FamilyEquipmentRequest,
	FamilyCycleCount,
	FamilyBrokenItemReport,
	FamilyMaintenanceRecord,
	FamilyInventoryMove,
}

// ValidFamily reports whether f is a known family.
func ValidFamily(f Family) bool {
	for _, known := range KnownFamilies {
		if f == known {
			return true
		}
	}
	return false
}

// Status is a family-specific state. Legality is enforced by the per-family
// transition table, never by string comparison at call sites.
type Status string

// Equipment request states.
const (
	StatusPending     Status = "pending"
	StatusPendingOPX  Status = "pending_opx"
	StatusOPXApproved Status = "opx_approved"
	StatusOPXRejected Status = "opx_rejected"
	StatusFulfilled   Status = "fulfilled"
	StatusDeclined    Status = "declined"
)

// Cycle count states.
const (
	StatusSubmitted Status = "submitted"
	StatusValidated Status = "validated"
	StatusRejected  Status = "rejected"
)

// Broken-item report states.
const (
	StatusOpen          Status = "open"
	StatusInMaintenance Status = "in_maintenance"
	StatusResolved      Status = "resolved"
)

// Maintenance record / inventory move states.
const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Line approval sub-statuses on equipment request lines.
const (
	LinePending  = "pending"
	LineApproved = "approved"
	LineRejected = "rejected"
)

// Severity levels for broken-item reports.
var KnownSeverities = []string{"low", "medium", "high", "critical"}

// RequestLine is one equipment request line. ApprovedQty is set during the
// opx approval step and may reduce, never raise, the requested quantity.
type RequestLine struct {
	Item        string `json:"item"`
	Qty         int    `json:"qty"`
	ApprovedQty *int   `json:"approved_qty,omitempty"`
	LineStatus  string `json:"line_status,omitempty"`
}

// CountLine is one cycle count line.
type CountLine struct {
	Item        string `json:"item"`
	ExpectedQty int    `json:"expected_qty"`
	RecordedQty int    `json:"recorded_qty"`
}

// Payload carries the family-specific body of an item. The shape is
// structured-but-open: each family uses its own subset of fields and the
// per-family validator rejects payloads contradicting the family.
type Payload struct {
	Lines      []RequestLine `json:"lines,omitempty"`
	Counts     []CountLine   `json:"counts,omitempty"`
	Severity   string        `json:"severity,omitempty"`
	SourceArea string        `json:"source_area,omitempty"`
	TargetArea string        `json:"target_area,omitempty"`
	// PhotoPath is an opaque blob-store path produced elsewhere.
	PhotoPath string `json:"photo_path,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Item is one workflow instance of any family.
type Item struct {
	ID        string    `json:"id"`
	Family    Family    `json:"family"`
	Status    Status    `json:"status"`
	OpsArea   string    `json:"ops_area"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Payload   Payload   `json:"payload"`

	// Resolution metadata, each set at most once by the matching transition.
	RejectionNote string     `json:"rejection_note,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

// CreateInput is the caller-supplied body for Engine.Create.
type CreateInput struct {
	OpsArea string  `json:"ops_area"`
	Payload Payload `json:"payload"`
	// Draft creates an inventory move in draft instead of submitted.
	Draft bool   `json:"draft,omitempty"`
	Note  string `json:"note,omitempty"`
}

// ApplyInput is the caller-supplied body for Engine.Apply.
type ApplyInput struct {
	Note string `json:"note,omitempty"`
	// Payload, when present, replaces the item payload (modified events,
	// opx line decisions). Nil keeps the stored payload.
	Payload *Payload `json:"payload,omitempty"`
}

// ListFilter narrows Engine.List.
type ListFilter struct {
	Family    Family
	Status    Status
	OpsArea   string
	CreatedBy string
}

func copyItem(it Item) Item {
	out := it
	out.Payload = copyPayload(it.Payload)
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		out.CompletedAt = &t
	}
	if it.CancelledAt != nil {
		t := *it.CancelledAt
		out.CancelledAt = &t
	}
	return out
}

func copyPayload(p Payload) Payload {
	out := p
	if p.Lines != nil {
		out.Lines = make([]RequestLine, len(p.Lines))
		copy(out.Lines, p.Lines)
		for i, line := range p.Lines {
			if line.ApprovedQty != nil {
				v := *line.ApprovedQty
				out.Lines[i].ApprovedQty = &v
			}
		}
	}
	if p.Counts != nil {
		out.Counts = make([]CountLine, len(p.Counts))
		copy(out.Counts, p.Counts)
	}
	return out
}
