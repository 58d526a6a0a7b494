package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Transition and Step Run Methods
// -----------------------------------------------------------------------------

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RecordTransition stores a state transition and folds it into the pipeline_runs
// or step_runs row it belongs to, in one transaction.
func (db *DB) RecordTransition(ctx context.Context, t *Transition) error {
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now().UTC()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var attempt *int
	if t.Attempt > 0 {
		attempt = &t.Attempt
	}
	var duration *int64
	if t.DurationMs > 0 {
		duration = &t.DurationMs
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO state_transitions (run_id, tenant_id, pipeline_id, step_id, old_state, new_state,
		     attempt, error_message, error_kind, duration_ms, trigger_type, trigger_by, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		t.RunID, t.TenantID, t.PipelineID, nullString(t.StepID), t.OldState, t.NewState,
		attempt, nullString(t.ErrorMessage), nullString(t.ErrorKind), duration,
		nullString(t.TriggerType), nullString(t.TriggerBy), t.OccurredAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}

	if t.StepID == "" {
		var startedAt, endedAt *time.Time
		if t.NewState == RunStateRunning {
			startedAt = &t.OccurredAt
		}
		if IsTerminalRunState(t.NewState) {
			endedAt = &t.OccurredAt
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO pipeline_runs (id, tenant_id, pipeline_id, state, trigger_type, trigger_by,
			     error_message, started_at, ended_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
			     state = EXCLUDED.state,
			     error_message = COALESCE(EXCLUDED.error_message, pipeline_runs.error_message),
			     started_at = COALESCE(pipeline_runs.started_at, EXCLUDED.started_at),
			     ended_at = COALESCE(EXCLUDED.ended_at, pipeline_runs.ended_at),
			     updated_at = NOW()`,
			t.RunID, t.TenantID, t.PipelineID, t.NewState, t.TriggerType, t.TriggerBy,
			nullString(t.ErrorMessage), startedAt, endedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert run: %w", err)
		}
	} else {
		var startedAt, endedAt *time.Time
		if t.NewState == StepStateRunning {
			startedAt = &t.OccurredAt
		}
		if IsTerminalStepState(t.NewState) {
			endedAt = &t.OccurredAt
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO step_runs (run_id, step_id, state, attempt_count, duration_ms,
			     error_message, error_kind, started_at, ended_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (run_id, step_id) DO UPDATE SET
			     state = EXCLUDED.state,
			     attempt_count = GREATEST(step_runs.attempt_count, EXCLUDED.attempt_count),
			     duration_ms = COALESCE(EXCLUDED.duration_ms, step_runs.duration_ms),
			     error_message = CASE WHEN EXCLUDED.state = 'COMPLETED' THEN NULL
			         ELSE COALESCE(EXCLUDED.error_message, step_runs.error_message) END,
			     error_kind = CASE WHEN EXCLUDED.state = 'COMPLETED' THEN NULL
			         ELSE COALESCE(EXCLUDED.error_kind, step_runs.error_kind) END,
			     started_at = COALESCE(step_runs.started_at, EXCLUDED.started_at),
			     ended_at = COALESCE(EXCLUDED.ended_at, step_runs.ended_at),
			     updated_at = NOW()`,
			t.RunID, t.StepID, t.NewState, t.Attempt, duration,
			nullString(t.ErrorMessage), nullString(t.ErrorKind), startedAt, endedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert step run: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListStepRuns retrieves all steps for a run, optionally filtered by state
func (db *DB) ListStepRuns(ctx context.Context, runID uuid.UUID, state *string) ([]StepRun, error) {
	query := `SELECT id, run_id, step_id, state, attempt_count, duration_ms, error_message,
	                 error_kind, started_at, ended_at, created_at, updated_at
	          FROM step_runs
	          WHERE run_id = $1`
	args := []interface{}{runID}

	if state != nil {
		query += " AND state = $2"
		args = append(args, *state)
	}
	query += " ORDER BY id"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list step runs: %w", err)
	}
	defer rows.Close()

	var steps []StepRun
	for rows.Next() {
		var s StepRun
		if err := rows.Scan(&s.ID, &s.RunID, &s.StepID, &s.State, &s.AttemptCount, &s.DurationMs,
			&s.ErrorMessage, &s.ErrorKind, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step run: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// ListTransitions retrieves every recorded transition of a run in emission order
func (db *DB) ListTransitions(ctx context.Context, runID uuid.UUID) ([]Transition, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, tenant_id, pipeline_id, COALESCE(step_id, ''), old_state, new_state,
		        COALESCE(attempt, 0), COALESCE(error_message, ''), COALESCE(error_kind, ''),
		        COALESCE(duration_ms, 0), COALESCE(trigger_type, ''), COALESCE(trigger_by, ''), occurred_at
		 FROM state_transitions
		 WHERE run_id = $1
		 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.RunID, &t.TenantID, &t.PipelineID, &t.StepID, &t.OldState,
			&t.NewState, &t.Attempt, &t.ErrorMessage, &t.ErrorKind, &t.DurationMs,
			&t.TriggerType, &t.TriggerBy, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
