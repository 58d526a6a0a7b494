package db

import (
	"time"

	"github.com/google/uuid"
)

// Run states as stored in pipeline_runs.state.
const (
	RunStatePending   = "PENDING"
	RunStateRunning   = "RUNNING"
	RunStateCompleted = "COMPLETED"
	RunStateFailed    = "FAILED"
	RunStateTimedOut  = "TIMED_OUT"
	RunStateCancelled = "CANCELLED"
)

// IsTerminalRunState reports whether a run in this state will not change again.
func IsTerminalRunState(state string) bool {
	switch state {
	case RunStateCompleted, RunStateFailed, RunStateTimedOut, RunStateCancelled:
		return true
	}
	return false
}

// Run represents a pipeline run record
type Run struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     string     `json:"tenant_id"`
	PipelineID   string     `json:"pipeline_id"`
	State        string     `json:"state"`
	TriggerType  string     `json:"trigger_type"`
	TriggerBy    string     `json:"trigger_by"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RunFilters holds optional filters for listing runs
type RunFilters struct {
	TenantID   string
	PipelineID string
	State      string
	Limit      int
}

// Transition is one row of state_transitions. An empty StepID marks a run-level
// transition.
type Transition struct {
	ID           int64     `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	TenantID     string    `json:"tenant_id"`
	PipelineID   string    `json:"pipeline_id"`
	StepID       string    `json:"step_id,omitempty"`
	OldState     string    `json:"old_state"`
	NewState     string    `json:"new_state"`
	Attempt      int       `json:"attempt,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
	TriggerType  string    `json:"trigger_type,omitempty"`
	TriggerBy    string    `json:"trigger_by,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
