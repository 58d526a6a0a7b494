package db

import (
	"time"

	"github.com/google/uuid"
)

// Step states as stored in step_runs.state.
const (
	StepStatePending   = "PENDING"
	StepStateRunning   = "RUNNING"
	StepStateRetrying  = "RETRYING"
	StepStateCompleted = "COMPLETED"
	StepStateFailed    = "FAILED"
	StepStateSkipped   = "SKIPPED"
)

// IsTerminalStepState reports whether a step in this state is finalized.
func IsTerminalStepState(state string) bool {
	switch state {
	case StepStateCompleted, StepStateFailed, StepStateSkipped:
		return true
	}
	return false
}

// StepRun represents a single step execution for a pipeline run
type StepRun struct {
	ID           int64      `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	StepID       string     `json:"step_id"`
	State        string     `json:"state"`
	AttemptCount int        `json:"attempt_count"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ErrorKind    *string    `json:"error_kind,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
