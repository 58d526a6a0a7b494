package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/jonathan/pipeline-orchestrator/internal/config"
	"github.com/jonathan/pipeline-orchestrator/internal/db"
	"github.com/jonathan/pipeline-orchestrator/internal/definition"
	"github.com/jonathan/pipeline-orchestrator/internal/llm"
	"github.com/jonathan/pipeline-orchestrator/internal/lock"
	"github.com/jonathan/pipeline-orchestrator/internal/metadata"
	"github.com/jonathan/pipeline-orchestrator/internal/observability"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline/steps"
	"github.com/jonathan/pipeline-orchestrator/internal/processors"
	"github.com/jonathan/pipeline-orchestrator/internal/retry"
)

// app holds everything a command needs to trigger and observe runs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	source   *definition.FileSource
	exec     *pipeline.Executor
	store    *db.DB
	events   *metadata.Broadcaster
	metrics  *observability.Metrics
	registry *prometheus.Registry
	memLocks *lock.Memory

	closers []func()
}

// loadConfig resolves configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newSource(cfg *config.Config) *definition.FileSource {
	vars := map[string]any{}
	if cfg.ProjectID != "" {
		vars["project_id"] = cfg.ProjectID
	}
	if cfg.Environment != "" {
		vars["environment"] = cfg.Environment
	}
	return &definition.FileSource{Dir: cfg.DefinitionsDir, Vars: vars}
}

// newApp wires the executor with its lock backend, metadata sinks and processors.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		source:   newSource(cfg),
		events:   metadata.NewBroadcaster(),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	sinks := metadata.Multi{metadata.NewLogSink(logger), a.events}
	if cfg.DatabaseURL != "" {
		store, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		sinks = append(sinks, metadata.NewBreakerSink("metadata-db", metadata.NewDBSink(store), metadata.BreakerSettings{}, logger))
	}

	var locks lock.Manager
	switch cfg.LockBackend {
	case config.LockRedis:
		r, err := lock.DialRedis(ctx, cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = r.Close() })
		locks = r
	default:
		a.memLocks = lock.NewMemory(cfg.LockTTL, lock.WithLogger(logger))
		locks = a.memLocks
	}

	deps := processors.Deps{
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Logger:     logger,
	}
	if cfg.WarehouseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.WarehouseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		deps.Warehouse = pool
	}
	if cfg.GeminiAPIKey != "" {
		client, err := llm.NewClient(ctx, llm.DefaultConfig(), cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		deps.LLM = client
	}

	reg := steps.NewRegistry()
	if err := processors.RegisterBuiltins(reg, deps); err != nil {
		return nil, err
	}
	dispatcher := steps.NewDispatcher(reg,
		steps.WithDefaultTimeout(cfg.StepTimeout),
		steps.WithRequireStatus(cfg.RequireStatus),
		steps.WithDispatchLogger(logger))

	a.exec = pipeline.New(pipeline.Config{
		ProjectID:       cfg.ProjectID,
		Environment:     cfg.Environment,
		StepTimeout:     cfg.StepTimeout,
		PipelineTimeout: cfg.PipelineTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Base:        cfg.RetryBase,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		MaxParallelSteps: cfg.MaxParallelSteps,
		HistoryLimit:     cfg.HistoryLimit,
	}, a.source, dispatcher, locks,
		pipeline.WithSink(sinks),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(logger))

	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}

// shutdown cancels active runs and waits up to timeout for them to finish.
func (a *app) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.exec.Shutdown(ctx); err != nil {
		a.logger.Warn("runs still active at shutdown", zap.Error(err))
	}
}

func summarize(run *pipeline.PipelineRun) *observability.RunSummary {
	sum := &observability.RunSummary{
		RunID:      run.RunID,
		TenantID:   run.TenantID,
		PipelineID: run.PipelineID,
		State:      string(run.State),
		Duration:   run.Duration(),
		Error:      run.ErrorMessage,
	}
	for _, s := range run.Steps {
		sum.Steps = append(sum.Steps, observability.StepSummary{
			StepID:   s.StepID,
			State:    string(s.State),
			Attempts: s.AttemptCount,
			Duration: time.Duration(s.DurationMs) * time.Millisecond,
			Error:    s.ErrorMessage,
		})
	}
	return sum
}
