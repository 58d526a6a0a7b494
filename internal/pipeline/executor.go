// Package pipeline runs pipeline definitions: it takes the per-pipeline execution
// lock, walks the steps in dependency order, applies the retry policy, and records
// every state transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/pipeline-orchestrator/internal/definition"
	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
	"github.com/jonathan/pipeline-orchestrator/internal/lock"
	"github.com/jonathan/pipeline-orchestrator/internal/metadata"
	"github.com/jonathan/pipeline-orchestrator/internal/observability"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline/steps"
	"github.com/jonathan/pipeline-orchestrator/internal/retry"
	"github.com/jonathan/pipeline-orchestrator/internal/template"
)

// Defaults for Config fields left at zero.
const (
	DefaultPipelineTimeout = 2 * time.Hour
	DefaultEmitTimeout     = 5 * time.Second
	DefaultHistoryLimit    = 1000
)

// Config holds executor settings.
type Config struct {
	ProjectID   string
	Environment string
	// Holder identifies this process in lock records. Defaults to the hostname.
	Holder string
	// StepTimeout applies to steps when neither the step nor the pipeline sets one.
	StepTimeout time.Duration
	// PipelineTimeout applies when the definition sets no timeout_minutes.
	PipelineTimeout time.Duration
	Retry           retry.Policy
	// MaxParallelSteps > 1 runs the steps of a dependency level concurrently.
	MaxParallelSteps int
	EmitTimeout      time.Duration
	// HistoryLimit bounds how many finished runs stay queryable in memory.
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.Holder == "" {
		if host, err := os.Hostname(); err == nil {
			c.Holder = host
		} else {
			c.Holder = "orchestrator"
		}
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = steps.DefaultTimeout
	}
	if c.PipelineTimeout <= 0 {
		c.PipelineTimeout = DefaultPipelineTimeout
	}
	if c.Retry.MaxAttempts <= 0 && c.Retry.Base == 0 && c.Retry.MaxDelay == 0 {
		c.Retry = retry.DefaultPolicy()
	}
	if c.EmitTimeout <= 0 {
		c.EmitTimeout = DefaultEmitTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	return c
}

// Executor drives pipeline runs.
type Executor struct {
	cfg        Config
	source     definition.Source
	dispatcher *steps.Dispatcher
	locks      lock.Manager
	sink       metadata.Sink
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	runs  map[string]*runHandle
	order []string
	wg    sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor)

// WithSink sets where state transitions are recorded.
func WithSink(sink metadata.Sink) Option {
	return func(e *Executor) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for run and step timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Executor.
func New(cfg Config, source definition.Source, dispatcher *steps.Dispatcher, locks lock.Manager, opts ...Option) *Executor {
	e := &Executor{
		cfg:        cfg.withDefaults(),
		source:     source,
		dispatcher: dispatcher,
		locks:      locks,
		sink:       metadata.Nop{},
		logger:     zap.NewNop(),
		now:        time.Now,
		runs:       make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type runHandle struct {
	mu  sync.Mutex
	run *PipelineRun

	cancelled  atomic.Bool
	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

func (h *runHandle) requestCancel() {
	h.cancelOnce.Do(func() {
		h.cancelled.Store(true)
		close(h.cancelCh)
	})
}

// prepared is a validated run plan.
type prepared struct {
	req     TriggerRequest
	key     lock.Key
	def     *definition.Definition
	batches [][]definition.Step
}

func (e *Executor) prepare(ctx context.Context, req TriggerRequest) (*prepared, error) {
	if req.TenantID == "" || req.PipelineID == "" {
		return nil, &TriggerError{TenantID: req.TenantID, PipelineID: req.PipelineID,
			Cause: errclass.Validation("tenant_id and pipeline_id are required")}
	}
	if req.TriggerType == "" {
		req.TriggerType = TriggerManual
	}

	def, err := e.source.Load(ctx, req.TenantID, req.PipelineID)
	if err != nil {
		return nil, &TriggerError{TenantID: req.TenantID, PipelineID: req.PipelineID, Cause: err}
	}
	if err := e.dispatcher.Registry().Check(def.Processors()...); err != nil {
		return nil, &TriggerError{TenantID: req.TenantID, PipelineID: req.PipelineID, Cause: err}
	}

	var batches [][]definition.Step
	if e.cfg.MaxParallelSteps > 1 {
		batches, err = def.Levels()
	} else {
		var order []definition.Step
		order, err = def.Order()
		for _, s := range order {
			batches = append(batches, []definition.Step{s})
		}
	}
	if err != nil {
		return nil, &TriggerError{TenantID: req.TenantID, PipelineID: req.PipelineID,
			Cause: &definition.ValidationError{PipelineID: req.PipelineID, Issues: []string{err.Error()}}}
	}

	return &prepared{
		req:     req,
		key:     lock.Key{TenantID: req.TenantID, PipelineID: req.PipelineID},
		def:     def,
		batches: batches,
	}, nil
}

// Start validates the request, takes the execution lock and launches the run in
// the background. A definition or processor problem is returned as a
// *TriggerError before any lock is taken. When another run holds the lock the
// result is ALREADY_RUNNING with that run's id.
func (e *Executor) Start(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	h, p, res, err := e.begin(ctx, req)
	if err != nil || h == nil {
		return res, err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(context.WithoutCancel(ctx), h, p)
	}()
	return res, nil
}

// Run is Start followed by waiting for the run in the caller's goroutine. The
// run is bound to ctx: cancelling ctx cancels the run. The result carries the
// terminal state of the run.
func (e *Executor) Run(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	h, p, res, err := e.begin(ctx, req)
	if err != nil || h == nil {
		return res, err
	}
	e.wg.Add(1)
	func() {
		defer e.wg.Done()
		e.execute(ctx, h, p)
	}()

	h.mu.Lock()
	res.Status = TriggerStatus(h.run.State)
	h.mu.Unlock()
	return res, nil
}

// begin runs the prepare phase and the PENDING->RUNNING transition. A nil handle
// with a nil error means the lock was held by another run.
func (e *Executor) begin(ctx context.Context, req TriggerRequest) (*runHandle, *prepared, TriggerResult, error) {
	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, nil, TriggerResult{}, err
	}
	req = p.req

	runID := uuid.NewString()
	granted, existing, err := e.locks.Acquire(ctx, p.key, runID, e.cfg.Holder)
	if err != nil {
		return nil, nil, TriggerResult{}, fmt.Errorf("failed to acquire execution lock for %s: %w", p.key, err)
	}
	if !granted {
		e.metrics.LockContended(req.TenantID, req.PipelineID)
		e.logger.Info("pipeline already running",
			zap.String("tenant_id", req.TenantID),
			zap.String("pipeline_id", req.PipelineID),
			zap.String("existing_run_id", existing))
		return nil, nil, TriggerResult{RunID: existing, Status: StatusAlreadyRunning}, nil
	}

	h := &runHandle{
		run: &PipelineRun{
			RunID:       runID,
			TenantID:    req.TenantID,
			PipelineID:  req.PipelineID,
			State:       RunPending,
			TriggerType: req.TriggerType,
			TriggerBy:   req.TriggerBy,
		},
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.track(h)

	h.mu.Lock()
	h.run.State = RunRunning
	h.run.StartedAt = e.now()
	rec := e.runRecord(h.run, RunPending)
	h.mu.Unlock()
	e.emit(rec)

	e.metrics.RunStarted(req.TenantID, req.PipelineID, req.TriggerType)
	e.logger.Info("pipeline run started",
		zap.String("run_id", runID),
		zap.String("tenant_id", req.TenantID),
		zap.String("pipeline_id", req.PipelineID),
		zap.String("trigger_type", req.TriggerType),
		zap.Int("steps", len(p.def.Steps)))

	return h, p, TriggerResult{RunID: runID, Status: StatusRunning}, nil
}

func (e *Executor) execute(parent context.Context, h *runHandle, p *prepared) {
	defer close(h.done)
	defer e.releaseLock(p.key, h.run.RunID)

	timeout := p.def.Timeout()
	if timeout <= 0 {
		timeout = e.cfg.PipelineTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	state, msg := RunFailed, ""
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline run panicked", zap.String("run_id", h.run.RunID), zap.Any("panic", r))
			state, msg = RunFailed, fmt.Sprintf("internal error: %v", r)
		}
		e.finish(h, state, msg)
	}()

	h.mu.Lock()
	system := systemVars(h.run.RunID, p.req, e.cfg.ProjectID, e.cfg.Environment, h.run.StartedAt)
	h.mu.Unlock()
	ectx := seedContext(system, p.def.Variables, p.req.Parameters)

	state, msg = e.runBatches(ctx, h, p, ectx)
}

type stepOutcome int

const (
	outcomeCompleted stepOutcome = iota
	outcomeOptionalFailed
	outcomeFailed
	outcomeInterrupted
)

type stepResult struct {
	step    definition.Step
	outcome stepOutcome
	message string
}

func (e *Executor) runBatches(ctx context.Context, h *runHandle, p *prepared, ectx *ExecutionContext) (RunState, string) {
	for i, batch := range p.batches {
		if state, msg, stop := e.interruption(ctx, h); stop {
			e.skipRemaining(h, p, p.batches[i:], "", "pipeline "+lowerState(state))
			return state, msg
		}

		results := e.runBatch(ctx, h, p, batch, ectx)

		for _, r := range results {
			if r.outcome == outcomeInterrupted {
				state, msg, _ := e.interruption(ctx, h)
				e.skipRemaining(h, p, p.batches[i+1:], "", "pipeline "+lowerState(state))
				return state, msg
			}
		}
		for _, r := range results {
			if r.outcome == outcomeFailed {
				e.skipRemaining(h, p, p.batches[i+1:], r.step.ID, "")
				return RunFailed, fmt.Sprintf("step %s failed: %s", r.step.ID, r.message)
			}
		}
	}
	return RunCompleted, ""
}

func (e *Executor) runBatch(ctx context.Context, h *runHandle, p *prepared, batch []definition.Step, ectx *ExecutionContext) []stepResult {
	results := make([]stepResult, len(batch))
	if len(batch) == 1 {
		results[0] = e.runStep(ctx, h, p, batch[0], ectx)
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallelSteps)
	for i, s := range batch {
		g.Go(func() error {
			results[i] = e.runStep(ctx, h, p, s, ectx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// interruption reports whether the run must stop at a step boundary: an explicit
// cancel, the pipeline deadline, or the caller's context going away.
func (e *Executor) interruption(ctx context.Context, h *runHandle) (RunState, string, bool) {
	switch {
	case h.cancelled.Load():
		return RunCancelled, "cancelled", true
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return RunTimedOut, "TIMEOUT", true
	case ctx.Err() != nil:
		return RunCancelled, "cancelled", true
	}
	return "", "", false
}

func (e *Executor) stepTimeout(p *prepared, s definition.Step) time.Duration {
	if d := s.Timeout(); d > 0 {
		return d
	}
	if d := p.def.Timeout(); d > 0 {
		return d
	}
	return e.cfg.StepTimeout
}

func (e *Executor) runStep(ctx context.Context, h *runHandle, p *prepared, s definition.Step, ectx *ExecutionContext) stepResult {
	sr := e.addStep(h, s, StepPending)
	policy := e.cfg.Retry.WithMaxAttempts(s.MaxAttempts)
	timeout := e.stepTimeout(p, s)
	started := e.now()

	h.mu.Lock()
	sr.StartedAt = started
	h.mu.Unlock()

	for attempt := 1; ; attempt++ {
		e.stepTransition(h, sr, StepRunning, attempt, "", "", 0)

		vars := ectx.Snapshot()
		config := template.ResolveMap(s.Config, vars)
		res := e.dispatcher.Dispatch(ctx, s.Processor, config, vars, timeout)
		elapsed := e.now().Sub(started)

		if res.Succeeded() {
			e.metrics.StepAttempt(s.Processor, steps.StatusSuccess, res.Duration)
			ectx.MergeStepResult(s.ID, s.Outputs, res.Data)
			e.stepTransition(h, sr, StepCompleted, attempt, "", "", elapsed)
			return stepResult{step: s, outcome: outcomeCompleted}
		}
		e.metrics.StepAttempt(s.Processor, string(res.Kind), res.Duration)

		// The pipeline deadline or the caller interrupted the attempt.
		if err := ctx.Err(); err != nil {
			msg, kind := res.Error, res.Kind
			if errors.Is(err, context.DeadlineExceeded) {
				msg, kind = "TIMEOUT", errclass.KindTimeout
			}
			e.stepTransition(h, sr, StepFailed, attempt, msg, kind, elapsed)
			return stepResult{step: s, outcome: outcomeInterrupted, message: msg}
		}

		if policy.ShouldRetry(res.Kind, attempt) {
			if h.cancelled.Load() {
				e.stepTransition(h, sr, StepFailed, attempt, res.Error, res.Kind, elapsed)
				return stepResult{step: s, outcome: outcomeInterrupted, message: res.Error}
			}
			delay := policy.Backoff(attempt)
			e.logger.Debug("step attempt failed, retrying",
				zap.String("run_id", sr.RunID),
				zap.String("step_id", s.ID),
				zap.Int("attempt", attempt),
				zap.String("error_kind", string(res.Kind)),
				zap.Duration("backoff", delay))
			e.stepTransition(h, sr, StepRetrying, attempt, res.Error, res.Kind, 0)
			if err := waitBackoff(ctx, h, delay); err != nil {
				msg, kind := res.Error, res.Kind
				if errors.Is(err, context.DeadlineExceeded) {
					msg, kind = "TIMEOUT", errclass.KindTimeout
				}
				e.stepTransition(h, sr, StepFailed, attempt, msg, kind, e.now().Sub(started))
				return stepResult{step: s, outcome: outcomeInterrupted, message: msg}
			}
			continue
		}

		e.stepTransition(h, sr, StepFailed, attempt, res.Error, res.Kind, elapsed)
		if s.Optional && !errclass.AlwaysAborts(res.Kind) {
			e.logger.Warn("optional step failed, continuing",
				zap.String("run_id", sr.RunID),
				zap.String("step_id", s.ID),
				zap.String("error_kind", string(res.Kind)),
				zap.String("error", res.Error))
			ectx.MarkOutputsEmpty(s.ID, s.Outputs)
			return stepResult{step: s, outcome: outcomeOptionalFailed, message: res.Error}
		}
		return stepResult{step: s, outcome: outcomeFailed, message: res.Error}
	}
}

var errCancelled = errors.New("run cancelled")

func waitBackoff(ctx context.Context, h *runHandle, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.cancelCh:
		return errCancelled
	}
}

// skipRemaining marks every step in batches as SKIPPED. When failedStep is set,
// its dependents carry DEPENDENCY_FAILURE.
func (e *Executor) skipRemaining(h *runHandle, p *prepared, batches [][]definition.Step, failedStep, reason string) {
	for _, batch := range batches {
		for _, s := range batch {
			kind, msg := errclass.Kind(""), reason
			if failedStep != "" {
				if p.def.DependsTransitively(s.ID, failedStep) {
					kind, msg = errclass.KindDependencyFailure, fmt.Sprintf("dependency %s failed", failedStep)
				} else {
					msg = fmt.Sprintf("pipeline aborted after %s failed", failedStep)
				}
			}
			sr := e.addStep(h, s, StepPending)
			e.stepTransition(h, sr, StepSkipped, 0, msg, kind, 0)
		}
	}
}

func (e *Executor) addStep(h *runHandle, s definition.Step, state StepState) *StepRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	sr := &StepRun{
		ID:        uuid.NewString(),
		RunID:     h.run.RunID,
		StepID:    s.ID,
		Processor: s.Processor,
		State:     state,
	}
	h.run.Steps = append(h.run.Steps, sr)
	return sr
}

func (e *Executor) stepTransition(h *runHandle, sr *StepRun, to StepState, attempt int, msg string, kind errclass.Kind, elapsed time.Duration) {
	h.mu.Lock()
	from := sr.State
	sr.State = to
	if attempt > 0 {
		sr.AttemptCount = attempt
	}
	sr.ErrorMessage = msg
	sr.ErrorKind = kind
	now := e.now()
	if to == StepCompleted || to == StepFailed || to == StepSkipped {
		sr.EndedAt = &now
		sr.DurationMs = elapsed.Milliseconds()
	}
	rec := metadata.TransitionRecord{
		RunID:        h.run.RunID,
		PipelineID:   h.run.PipelineID,
		TenantID:     h.run.TenantID,
		StepID:       sr.StepID,
		OldState:     string(from),
		NewState:     string(to),
		Timestamp:    now,
		ErrorMessage: msg,
		ErrorKind:    string(kind),
		Attempt:      sr.AttemptCount,
		TriggerType:  h.run.TriggerType,
		TriggerBy:    h.run.TriggerBy,
		DurationMs:   sr.DurationMs,
	}
	h.mu.Unlock()
	e.emit(rec)
}

func (e *Executor) finish(h *runHandle, state RunState, msg string) {
	h.mu.Lock()
	now := e.now()
	h.run.State = state
	h.run.EndedAt = &now
	h.run.ErrorMessage = msg
	rec := e.runRecord(h.run, RunRunning)
	run := h.run.clone()
	h.mu.Unlock()

	e.emit(rec)
	e.metrics.RunFinished(run.TenantID, run.PipelineID, string(state), run.Duration())

	fields := []zap.Field{
		zap.String("run_id", run.RunID),
		zap.String("tenant_id", run.TenantID),
		zap.String("pipeline_id", run.PipelineID),
		zap.String("state", string(state)),
		zap.Duration("duration", run.Duration()),
	}
	if state == RunCompleted {
		e.logger.Info("pipeline run finished", fields...)
	} else {
		e.logger.Warn("pipeline run finished", append(fields, zap.String("error", msg))...)
	}
}

// runRecord builds a run-level transition from the given state to the run's
// current state. Caller holds h.mu.
func (e *Executor) runRecord(run *PipelineRun, from RunState) metadata.TransitionRecord {
	rec := metadata.TransitionRecord{
		RunID:        run.RunID,
		PipelineID:   run.PipelineID,
		TenantID:     run.TenantID,
		OldState:     string(from),
		NewState:     string(run.State),
		Timestamp:    e.now(),
		ErrorMessage: run.ErrorMessage,
		TriggerType:  run.TriggerType,
		TriggerBy:    run.TriggerBy,
	}
	if run.EndedAt != nil {
		rec.Timestamp = *run.EndedAt
		rec.DurationMs = run.EndedAt.Sub(run.StartedAt).Milliseconds()
	} else if !run.StartedAt.IsZero() {
		rec.Timestamp = run.StartedAt
	}
	return rec
}

// emit records a transition without letting the sink affect the run.
func (e *Executor) emit(rec metadata.TransitionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.EmitTimeout)
	defer cancel()
	if err := e.sink.Record(ctx, rec); err != nil {
		e.metrics.MetadataFailed("executor")
		e.logger.Warn("failed to record transition",
			zap.String("run_id", rec.RunID),
			zap.String("step_id", rec.StepID),
			zap.String("new_state", rec.NewState),
			zap.Error(err))
	}
}

func (e *Executor) releaseLock(key lock.Key, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.EmitTimeout)
	defer cancel()
	released, err := e.locks.Release(ctx, key, runID)
	switch {
	case err != nil:
		e.logger.Error("failed to release execution lock",
			zap.String("lock", key.String()), zap.String("run_id", runID), zap.Error(err))
	case !released:
		e.logger.Warn("execution lock was not held at release",
			zap.String("lock", key.String()), zap.String("run_id", runID))
	}
}

func (e *Executor) track(h *runHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[h.run.RunID] = h
	e.order = append(e.order, h.run.RunID)

	for len(e.order) > e.cfg.HistoryLimit {
		evicted := false
		for i, id := range e.order {
			old := e.runs[id]
			old.mu.Lock()
			terminal := old.run.State.Terminal()
			old.mu.Unlock()
			if terminal {
				delete(e.runs, id)
				e.order = append(e.order[:i], e.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			break
		}
	}
}

func (e *Executor) handle(runID string) *runHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[runID]
}

// GetRun returns a snapshot of a run tracked by this executor.
func (e *Executor) GetRun(runID string) (*PipelineRun, bool) {
	h := e.handle(runID)
	if h == nil {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.clone(), true
}

// Runs returns snapshots of the tracked runs, most recent first.
func (e *Executor) Runs() []*PipelineRun {
	e.mu.Lock()
	handles := make([]*runHandle, 0, len(e.order))
	for i := len(e.order) - 1; i >= 0; i-- {
		handles = append(handles, e.runs[e.order[i]])
	}
	e.mu.Unlock()

	out := make([]*PipelineRun, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		out = append(out, h.run.clone())
		h.mu.Unlock()
	}
	return out
}

// Cancel asks a running pipeline to stop. It takes effect at the next step
// boundary or retry wait; a step already executing is not interrupted. It
// returns false when the run is unknown or already finished.
func (e *Executor) Cancel(runID string) bool {
	h := e.handle(runID)
	if h == nil {
		return false
	}
	h.mu.Lock()
	terminal := h.run.State.Terminal()
	h.mu.Unlock()
	if terminal {
		return false
	}
	h.requestCancel()
	e.logger.Info("pipeline run cancel requested", zap.String("run_id", runID))
	return true
}

// Wait blocks until the run finishes or ctx is done and returns its final snapshot.
func (e *Executor) Wait(ctx context.Context, runID string) (*PipelineRun, error) {
	h := e.handle(runID)
	if h == nil {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run, _ := e.GetRun(runID)
	if run == nil {
		h.mu.Lock()
		run = h.run.clone()
		h.mu.Unlock()
	}
	return run, nil
}

// Shutdown cancels every active run and waits for them to finish or ctx to end.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, h := range e.runs {
		h.requestCancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lowerState(s RunState) string {
	switch s {
	case RunTimedOut:
		return "timed out"
	case RunCancelled:
		return "cancelled"
	default:
		return "stopped"
	}
}
