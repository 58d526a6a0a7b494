// Package metadata receives the state transitions the executor emits and forwards
// them to logs, the metadata store and live subscribers.
//
// Emission is best effort: a Sink error is reported to the caller, which logs it
// and carries on. No sink may abort a pipeline run.
package metadata

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// TransitionRecord is one state change of a run (StepID empty) or of a step.
type TransitionRecord struct {
	RunID        string    `json:"run_id"`
	PipelineID   string    `json:"pipeline_id"`
	TenantID     string    `json:"tenant_id"`
	StepID       string    `json:"step_id,omitempty"`
	OldState     string    `json:"old_state"`
	NewState     string    `json:"new_state"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	TriggerType  string    `json:"trigger_type,omitempty"`
	TriggerBy    string    `json:"trigger_by,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
}

// RunLevel reports whether the record describes the run rather than a step.
func (r TransitionRecord) RunLevel() bool {
	return r.StepID == ""
}

// Final reports whether this is the run's terminal transition.
func (r TransitionRecord) Final() bool {
	if !r.RunLevel() {
		return false
	}
	switch r.NewState {
	case "COMPLETED", "FAILED", "TIMED_OUT", "CANCELLED":
		return true
	}
	return false
}

// Sink accepts transition records.
type Sink interface {
	Record(ctx context.Context, rec TransitionRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec TransitionRecord) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, rec TransitionRecord) error {
	return f(ctx, rec)
}

// Nop discards every record.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, TransitionRecord) error { return nil }

// Multi fans a record out to every sink and joins their errors. One failing sink
// does not stop the others.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, rec TransitionRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, rec TransitionRecord) error {
	fields := []zap.Field{
		zap.String("run_id", rec.RunID),
		zap.String("tenant_id", rec.TenantID),
		zap.String("pipeline_id", rec.PipelineID),
		zap.String("from", rec.OldState),
		zap.String("to", rec.NewState),
	}
	if rec.StepID != "" {
		fields = append(fields, zap.String("step_id", rec.StepID))
	}
	if rec.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", rec.Attempt))
	}
	if rec.DurationMs > 0 {
		fields = append(fields, zap.Int64("duration_ms", rec.DurationMs))
	}
	if rec.ErrorMessage != "" {
		fields = append(fields, zap.String("error", rec.ErrorMessage), zap.String("error_kind", rec.ErrorKind))
	}
	if rec.TriggerType != "" {
		fields = append(fields, zap.String("trigger_type", rec.TriggerType), zap.String("trigger_by", rec.TriggerBy))
	}

	switch {
	case rec.Final() && rec.NewState != "COMPLETED":
		s.logger.Warn("run finished", fields...)
	case rec.Final():
		s.logger.Info("run finished", fields...)
	default:
		s.logger.Debug("state transition", fields...)
	}
	return nil
}
