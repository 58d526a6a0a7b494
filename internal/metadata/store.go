package metadata

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/pipeline-orchestrator/internal/db"
)

// TransitionStore persists transitions. *db.DB implements it.
type TransitionStore interface {
	RecordTransition(ctx context.Context, t *db.Transition) error
}

// DBSink writes records to the metadata store.
type DBSink struct {
	store TransitionStore
}

// NewDBSink creates a DBSink.
func NewDBSink(store TransitionStore) *DBSink {
	return &DBSink{store: store}
}

// Record implements Sink.
func (s *DBSink) Record(ctx context.Context, rec TransitionRecord) error {
	runID, err := uuid.Parse(rec.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", rec.RunID, err)
	}
	return s.store.RecordTransition(ctx, &db.Transition{
		RunID:        runID,
		TenantID:     rec.TenantID,
		PipelineID:   rec.PipelineID,
		StepID:       rec.StepID,
		OldState:     rec.OldState,
		NewState:     rec.NewState,
		Attempt:      rec.Attempt,
		ErrorMessage: rec.ErrorMessage,
		ErrorKind:    rec.ErrorKind,
		DurationMs:   rec.DurationMs,
		TriggerType:  rec.TriggerType,
		TriggerBy:    rec.TriggerBy,
		OccurredAt:   rec.Timestamp,
	})
}
