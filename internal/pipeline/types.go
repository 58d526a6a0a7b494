package pipeline

import (
	"time"

	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
)

// RunState is the lifecycle state of a PipelineRun.
type RunState string

const (
	RunPending   RunState = "PENDING"
	RunRunning   RunState = "RUNNING"
	RunCompleted RunState = "COMPLETED"
	RunFailed    RunState = "FAILED"
	RunTimedOut  RunState = "TIMED_OUT"
	RunCancelled RunState = "CANCELLED"
)

// Terminal reports whether no further transition can follow.
func (s RunState) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunTimedOut, RunCancelled:
		return true
	}
	return false
}

// StepState is the lifecycle state of a StepRun.
type StepState string

const (
	StepPending   StepState = "PENDING"
	StepRunning   StepState = "RUNNING"
	StepRetrying  StepState = "RETRYING"
	StepCompleted StepState = "COMPLETED"
	StepFailed    StepState = "FAILED"
	StepSkipped   StepState = "SKIPPED"
)

// Trigger types.
const (
	TriggerManual    = "manual"
	TriggerAPI       = "api"
	TriggerScheduled = "scheduled"
)

// TriggerStatus is returned by Start and Run. Run reports the terminal RunState
// of the run it waited for.
type TriggerStatus string

const (
	StatusRunning        TriggerStatus = "RUNNING"
	StatusAlreadyRunning TriggerStatus = "ALREADY_RUNNING"
)

// TriggerRequest asks for one run of a tenant's pipeline.
type TriggerRequest struct {
	TenantID    string         `json:"tenant_id" validate:"required"`
	PipelineID  string         `json:"pipeline_id" validate:"required"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	TriggerType string         `json:"trigger_type,omitempty"`
	TriggerBy   string         `json:"trigger_by,omitempty"`
}

// TriggerResult identifies the run a trigger started, or the run already holding
// the execution lock when Status is ALREADY_RUNNING.
type TriggerResult struct {
	RunID  string        `json:"run_id"`
	Status TriggerStatus `json:"status"`
}

// PipelineRun is one execution of a pipeline for a tenant.
type PipelineRun struct {
	RunID        string     `json:"run_id"`
	TenantID     string     `json:"tenant_id"`
	PipelineID   string     `json:"pipeline_id"`
	State        RunState   `json:"state"`
	TriggerType  string     `json:"trigger_type"`
	TriggerBy    string     `json:"trigger_by,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Steps        []*StepRun `json:"steps"`
}

// Duration is the wall time of the run so far.
func (r *PipelineRun) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Step returns the StepRun for a step id, if one was created.
func (r *PipelineRun) Step(stepID string) (*StepRun, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return nil, false
}

func (r *PipelineRun) clone() *PipelineRun {
	cp := *r
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	cp.Steps = make([]*StepRun, len(r.Steps))
	for i, s := range r.Steps {
		sc := *s
		if s.EndedAt != nil {
			t := *s.EndedAt
			sc.EndedAt = &t
		}
		cp.Steps[i] = &sc
	}
	return &cp
}

// StepRun is the execution record of one step within a run.
type StepRun struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	StepID       string        `json:"step_id"`
	Processor    string        `json:"processor_name"`
	State        StepState     `json:"state"`
	AttemptCount int           `json:"attempt_count"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	DurationMs   int64         `json:"duration_ms"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorKind    errclass.Kind `json:"error_kind,omitempty"`
}
