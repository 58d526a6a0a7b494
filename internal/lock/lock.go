// Package lock grants at most one live execution per (tenant, pipeline) key.
//
// Memory is the single-process registry. Redis provides the same contract across
// processes as a lease on a shared store.
package lock

import (
	"context"
	"time"
)

// DefaultTTL is the age after which a held lock is considered stale.
const DefaultTTL = time.Hour

// Key identifies the unit of mutual exclusion.
type Key struct {
	TenantID   string
	PipelineID string
}

func (k Key) String() string {
	return k.TenantID + "/" + k.PipelineID
}

// Lock describes the current holder of a key.
type Lock struct {
	RunID      string    `json:"run_id"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Manager is implemented by every lock backend.
//
// Acquire grants the key to runID when it is free, expired, or already held by
// runID. Otherwise granted is false and existingRunID names the live holder.
//
// Release removes the lock only if runID is the current holder and reports whether
// it did. A release by a stale run never clobbers a newer holder.
type Manager interface {
	Acquire(ctx context.Context, key Key, runID, holder string) (granted bool, existingRunID string, err error)
	Release(ctx context.Context, key Key, runID string) (bool, error)
}
