package workflow

import (
	"fmt"
	"strings"
)

// validatePayload applies the family-specific payload invariants. It runs
// on create and on every apply, before any status mutation, against the
// payload the item would end up holding.
func validatePayload(f Family, p Payload) error {
	fields := map[string]string{}
	switch f {
	case FamilyEquipmentRequest:
		validateEquipmentRequest(p, fields)
	case FamilyCycleCount:
		validateCycleCount(p, fields)
	case FamilyBrokenItemReport:
		validateBrokenItemReport(p, fields)
	case FamilyMaintenanceRecord:
		validateMaintenanceRecord(p, fields)
	case FamilyInventoryMove:
		validateInventoryMove(p, fields)
	default:
		fields["family"] = fmt.Sprintf("unknown family %q", f)
	}
	if len(fields) > 0 {
		return invalidPayload(fields)
	}
	return nil
}

func validateEquipmentRequest(p Payload, fields map[string]string) {
	if len(p.Lines) == 0 {
		fields["lines"] = "at least one line is required"
		return
	}
	for i, line := range p.Lines {
		key := fmt.Sprintf("lines[%d]", i)
		if strings.TrimSpace(line.Item) == "" {
			fields[key+".item"] = "item is required"
		}
		if line.Qty <= 0 {
			fields[key+".qty"] = "quantity must be a positive integer"
		}
		if line.ApprovedQty != nil {
			if *line.ApprovedQty < 0 {
				fields[key+".approved_qty"] = "approved quantity must be >= 0"
			} else if *line.ApprovedQty > line.Qty {
				fields[key+".approved_qty"] = "approved quantity may not exceed requested quantity"
			}
		}
		switch line.LineStatus {
		case "", LinePending, LineApproved, LineRejected:
		default:
			fields[key+".line_status"] = fmt.Sprintf("unknown line status %q", line.LineStatus)
		}
	}
	rejectForeign(p, fields, "counts", "severity", "source_area", "target_area")
}

func validateCycleCount(p Payload, fields map[string]string) {
	if len(p.Counts) == 0 {
		fields["counts"] = "at least one count line is required"
		return
	}
	for i, line := range p.Counts {
		key := fmt.Sprintf("counts[%d]", i)
		if strings.TrimSpace(line.Item) == "" {
			fields[key+".item"] = "item is required"
		}
		if line.RecordedQty < 0 {
			fields[key+".recorded_qty"] = "recorded quantity must be >= 0"
		}
		if line.ExpectedQty < 0 {
			fields[key+".expected_qty"] = "expected quantity must be >= 0"
		}
	}
	rejectForeign(p, fields, "lines", "severity", "source_area", "target_area")
}

func validateBrokenItemReport(p Payload, fields map[string]string) {
	severity := strings.ToLower(strings.TrimSpace(p.Severity))
	valid := false
	for _, s := range KnownSeverities {
		if severity == s {
			valid = true
			break
		}
	}
	if !valid {
		fields["severity"] = fmt.Sprintf("severity must be one of %s", strings.Join(KnownSeverities, ", "))
	}
	if strings.TrimSpace(p.Notes) == "" {
		fields["notes"] = "a description of the damage is required"
	}
	rejectForeign(p, fields, "lines", "counts", "source_area", "target_area")
}

func validateMaintenanceRecord(p Payload, fields map[string]string) {
	if strings.TrimSpace(p.Notes) == "" {
		fields["notes"] = "maintenance notes are required"
	}
	rejectForeign(p, fields, "lines", "counts", "severity", "source_area", "target_area")
}

func validateInventoryMove(p Payload, fields map[string]string) {
	source := strings.TrimSpace(p.SourceArea)
	target := strings.TrimSpace(p.TargetArea)
	if source == "" {
		fields["source_area"] = "source area is required"
	}
	if target == "" {
		fields["target_area"] = "target area is required"
	}
	if source != "" && source == target {
		fields["target_area"] = "target area must differ from source area"
	}
	if len(p.Lines) == 0 {
		fields["lines"] = "at least one line is required"
	}
	for i, line := range p.Lines {
		key := fmt.Sprintf("lines[%d]", i)
		if strings.TrimSpace(line.Item) == "" {
			fields[key+".item"] = "item is required"
		}
		if line.Qty <= 0 {
			fields[key+".qty"] = "quantity must be a positive integer"
		}
	}
	rejectForeign(p, fields, "counts", "severity")
}

// rejectForeign flags payload fields that belong to a different family;
// an item must never hold a payload contradicting its family tag.
func rejectForeign(p Payload, fields map[string]string, foreign ...string) {
	for _, name := range foreign {
		switch name {
		case "lines":
			if len(p.Lines) > 0 {
				fields["lines"] = "field does not belong to this family"
			}
		case "counts":
			if len(p.Counts) > 0 {
				fields["counts"] = "field does not belong to this family"
			}
		case "severity":
			if p.Severity != "" {
				fields["severity"] = "field does not belong to this family"
			}
		case "source_area":
			if p.SourceArea != "" {
				fields["source_area"] = "field does not belong to this family"
			}
		case "target_area":
			if p.TargetArea != "" {
				fields["target_area"] = "field does not belong to this family"
			}
		}
	}
}
