// Package extsync is the boundary to the external inventory system.
// Propagation is fire-and-forget after terminal transitions; a failed sync
// never rolls back the transition that triggered it.
package extsync

import (
	"context"
	"time"

	"fieldhub.org/internal/obs"
)

// Syncer propagates a terminal item state to the external system.
type Syncer interface {
	Sync(ctx context.Context, family, itemID string) error
}

// Noop logs intent and does nothing. It stands in until the real
// integration lands.
type Noop struct{}

var _ Syncer = Noop{}

func (Noop) Sync(ctx context.Context, family, itemID string) error {
	obs.LogEntry(map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"level":  "info",
		"msg":    "external inventory sync skipped (noop)",
		"family": family,
		"item":   itemID,
	})
	return nil
}
