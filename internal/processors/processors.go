// Package processors provides the built-in step processors.
package processors

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
	"github.com/jonathan/pipeline-orchestrator/internal/llm"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline/steps"
)

// Built-in processor names.
const (
	Echo        = "echo"
	Sleep       = "sleep"
	Fail        = "fail"
	HTTPFetch   = "http_fetch"
	SQLQuery    = "sql_query"
	LLMGenerate = "llm_generate"
)

// Querier runs warehouse queries. *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Deps are the external clients processors may need. Nil members disable the
// processors that depend on them: they stay registered and fail with a
// validation error when used.
type Deps struct {
	HTTPClient *http.Client
	Warehouse  Querier
	LLM        llm.Client
	Logger     *zap.Logger
}

// RegisterBuiltins registers every built-in processor on reg.
func RegisterBuiltins(reg *steps.Registry, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	builtins := map[string]steps.Processor{
		Echo:        steps.ProcessorFunc(echo),
		Sleep:       steps.ProcessorFunc(sleep),
		Fail:        steps.ProcessorFunc(fail),
		HTTPFetch:   &httpFetch{client: deps.HTTPClient},
		SQLQuery:    &sqlQuery{db: deps.Warehouse, logger: logger},
		LLMGenerate: &llmGenerate{client: deps.LLM},
	}
	for _, name := range []string{Echo, Sleep, Fail, HTTPFetch, SQLQuery, LLMGenerate} {
		if err := reg.Register(name, builtins[name]); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// echo returns its configuration as the step result.
func echo(_ context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out, nil
}

// sleep waits for config.seconds (or a duration string in config.duration).
func sleep(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	var d time.Duration
	if s, ok := config["duration"].(string); ok && s != "" {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return nil, errclass.Validation("sleep: invalid duration %q", s)
		}
		d = parsed
	} else {
		secs, err := floatValue(config, "seconds", 0)
		if err != nil {
			return nil, err
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return nil, errclass.Validation("sleep: negative duration %s", d)
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return map[string]any{"slept_ms": d.Milliseconds()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail reports a FAILED result with config.message and an optional
// config.error_kind, for drills and tests.
func fail(_ context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	msg := stringValue(config, "message")
	if msg == "" {
		msg = "failure requested"
	}
	out := map[string]any{steps.FieldStatus: steps.StatusFailed, steps.FieldError: msg}
	if kind := stringValue(config, "error_kind"); kind != "" {
		out[steps.FieldErrorKind] = kind
	}
	return out, nil
}
