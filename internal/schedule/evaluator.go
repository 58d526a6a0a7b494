package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/pipeline-orchestrator/internal/pipeline"
)

// DefaultConcurrency bounds how many triggers one evaluation issues at once.
const DefaultConcurrency = 8

// Trigger starts a pipeline run. *pipeline.Executor satisfies it.
type Trigger interface {
	Start(ctx context.Context, req pipeline.TriggerRequest) (pipeline.TriggerResult, error)
}

// Firing is the outcome of one due entry.
type Firing struct {
	Entry  string
	RunID  string
	Status pipeline.TriggerStatus
	Err    error
}

type compiled struct {
	entry Entry
	sched cron.Schedule
}

// Evaluator decides which entries are due and triggers them.
type Evaluator struct {
	entries     []compiled
	trigger     Trigger
	logger      *zap.Logger
	concurrency int

	mu   sync.Mutex
	last map[string]time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConcurrency bounds concurrent triggers per evaluation.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEvaluator compiles entries. Each entry's first fire time is computed from
// since, so nothing fires for the time before the evaluator existed.
func NewEvaluator(entries []Entry, trigger Trigger, since time.Time, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		trigger:     trigger,
		logger:      zap.NewNop(),
		concurrency: DefaultConcurrency,
		last:        make(map[string]time.Time, len(entries)),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, entry := range entries {
		sched, err := ParseCron(entry.Cron)
		if err != nil {
			return nil, &ValidationError{Issues: []string{entry.Name + ": " + err.Error()}}
		}
		e.entries = append(e.entries, compiled{entry: entry, sched: sched})
		e.last[entry.Name] = since
	}
	return e, nil
}

// Due returns the enabled entries whose next fire time after their last
// evaluation is not after now, and marks them evaluated at now. Several missed
// fire times collapse into one trigger.
func (e *Evaluator) Due(now time.Time) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	var due []Entry
	for _, c := range e.entries {
		if !c.entry.IsEnabled() {
			continue
		}
		next := c.sched.Next(e.last[c.entry.Name])
		if next.IsZero() || next.After(now) {
			continue
		}
		due = append(due, c.entry)
		e.last[c.entry.Name] = now
	}
	return due
}

// Evaluate triggers every due entry with trigger_type "scheduled". A pipeline
// that is still running is logged and skipped; trigger failures are reported in
// the returned firings, not as an error.
func (e *Evaluator) Evaluate(ctx context.Context, now time.Time) ([]Firing, error) {
	due := e.Due(now)
	if len(due) == 0 {
		return nil, nil
	}

	firings := make([]Firing, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, entry := range due {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			firings[i] = e.fire(gctx, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return firings, err
	}
	return firings, nil
}

func (e *Evaluator) fire(ctx context.Context, entry Entry) Firing {
	res, err := e.trigger.Start(ctx, pipeline.TriggerRequest{
		TenantID:    entry.TenantID,
		PipelineID:  entry.PipelineID,
		Parameters:  entry.Parameters,
		TriggerType: pipeline.TriggerScheduled,
		TriggerBy:   "schedule:" + entry.Name,
	})
	f := Firing{Entry: entry.Name, RunID: res.RunID, Status: res.Status, Err: err}

	fields := []zap.Field{
		zap.String("schedule", entry.Name),
		zap.String("tenant_id", entry.TenantID),
		zap.String("pipeline_id", entry.PipelineID),
	}
	switch {
	case err != nil:
		e.logger.Error("scheduled trigger failed", append(fields, zap.Error(err))...)
	case res.Status == pipeline.StatusAlreadyRunning:
		e.logger.Info("scheduled trigger skipped, pipeline already running", append(fields, zap.String("run_id", res.RunID))...)
	default:
		e.logger.Info("scheduled trigger started run", append(fields, zap.String("run_id", res.RunID))...)
	}
	return f
}

// Run evaluates on every tick of interval until ctx is done.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := e.Evaluate(ctx, now); err != nil && ctx.Err() == nil {
				e.logger.Warn("schedule evaluation interrupted", zap.Error(err))
			}
		}
	}
}
