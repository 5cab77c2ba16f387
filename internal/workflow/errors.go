package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("workflow: item not found")

	// ErrIllegalTransition means no transition row exists for the item's
	// current status and the requested event. There is no fallback row.
	ErrIllegalTransition = errors.New("workflow: illegal transition")

	// ErrConflict means a concurrent transition won the compare-and-swap.
	// The caller should re-read the item and retry.
	ErrConflict = errors.New("workflow: concurrent transition conflict")

	// ErrInvalidPayload is the sentinel matched by errors.Is for payload
	// validation failures; the concrete error carries field details.
	ErrInvalidPayload = errors.New("workflow: invalid payload")
)

// InvalidPayloadError reports family-specific validation failures with
// field-level detail for the caller to correct.
type InvalidPayloadError struct {
	Fields map[string]string
}

func (e *InvalidPayloadError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidPayload.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return ErrInvalidPayload.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *InvalidPayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

func invalidPayload(fields map[string]string) error {
	return &InvalidPayloadError{Fields: fields}
}
