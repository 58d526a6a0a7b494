package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
)

// Result status values.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Reserved result fields.
const (
	FieldStatus    = "status"
	FieldError     = "error"
	FieldErrorKind = "error_kind"
)

// DefaultTimeout bounds an attempt when neither the step nor the pipeline sets one.
const DefaultTimeout = 30 * time.Minute

// StepResult is the outcome of one dispatched attempt.
type StepResult struct {
	Status   string
	Data     map[string]any
	Error    string
	Kind     errclass.Kind
	Duration time.Duration
}

// Succeeded reports whether the attempt succeeded.
func (r StepResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

func failed(kind errclass.Kind, msg string) StepResult {
	return StepResult{Status: StatusFailed, Error: msg, Kind: kind}
}

// Dispatcher invokes processors from a Registry.
type Dispatcher struct {
	registry       *Registry
	defaultTimeout time.Duration
	requireStatus  bool
	logger         *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDefaultTimeout sets the timeout used when Dispatch is given none.
func WithDefaultTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.defaultTimeout = d
		}
	}
}

// WithRequireStatus makes a result without a status field a failure instead of
// an implicit success.
func WithRequireStatus(require bool) DispatcherOption {
	return func(disp *Dispatcher) { disp.requireStatus = require }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(logger *zap.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

// NewDispatcher creates a Dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:       reg,
		defaultTimeout: DefaultTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the dispatcher resolves names against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

type outcome struct {
	data map[string]any
	err  error
}

// Dispatch runs a single attempt of the named processor. It never panics and never
// returns an error: every failure is folded into a FAILED StepResult with a Kind.
//
// The attempt is bounded by timeout (the dispatcher default when <= 0). A processor
// still running at the deadline is abandoned and the result is TIMEOUT even if it
// later reports success. Processors are expected to honor ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, config, execCtx map[string]any, timeout time.Duration) StepResult {
	p, ok := d.registry.Lookup(name)
	if !ok {
		return failed(errclass.KindValidation, (&UnknownProcessorError{Names: []string{name}}).Error())
	}
	if err := ctx.Err(); err != nil {
		return failed(errclass.Classify(err, ""), err.Error())
	}
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("processor panicked", zap.String("processor", name), zap.Any("panic", r))
				done <- outcome{err: errclass.New(errclass.KindUnknown, fmt.Sprintf("processor %s panicked: %v", name, r))}
			}
		}()
		data, err := p.Execute(attemptCtx, config, execCtx)
		done <- outcome{data: data, err: err}
	}()

	var res StepResult
	select {
	case out := <-done:
		res = d.interpret(out)
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res = failed(errclass.KindTimeout, fmt.Sprintf("step timed out after %s", timeout))
		}
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			res = failed(errclass.Classify(ctx.Err(), ""), ctx.Err().Error())
		} else {
			res = failed(errclass.KindTimeout, fmt.Sprintf("step timed out after %s", timeout))
		}
		d.logger.Warn("abandoning processor after deadline",
			zap.String("processor", name), zap.Duration("timeout", timeout))
	}
	res.Duration = time.Since(start)
	return res
}

func (d *Dispatcher) interpret(out outcome) StepResult {
	if out.err != nil {
		return failed(errclass.Classify(out.err, ""), out.err.Error())
	}

	data := make(map[string]any, len(out.data))
	for k, v := range out.data {
		if k == FieldStatus || k == FieldError || k == FieldErrorKind {
			continue
		}
		data[k] = v
	}

	raw, present := out.data[FieldStatus]
	status, _ := raw.(string)
	status = strings.ToUpper(strings.TrimSpace(status))

	switch {
	case !present:
		if d.requireStatus {
			return failed(errclass.KindValidation, "processor result has no status field")
		}
		return StepResult{Status: StatusSuccess, Data: data}
	case status == StatusSuccess:
		return StepResult{Status: StatusSuccess, Data: data}
	case status == StatusFailed:
		msg, _ := out.data[FieldError].(string)
		if msg == "" {
			msg = "processor reported failure"
		}
		res := failed(errclass.Classify(nil, msg), msg)
		if kind, ok := out.data[FieldErrorKind].(string); ok && validKind(kind) {
			res.Kind = errclass.Kind(kind)
		}
		res.Data = data
		return res
	default:
		return failed(errclass.KindValidation, fmt.Sprintf("processor returned unrecognized status %v", raw))
	}
}

func validKind(k string) bool {
	switch errclass.Kind(k) {
	case errclass.KindTransient, errclass.KindPermanent, errclass.KindTimeout,
		errclass.KindValidation, errclass.KindDependencyFailure, errclass.KindUnknown:
		return true
	}
	return false
}
