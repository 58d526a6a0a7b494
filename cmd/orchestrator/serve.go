package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/pipeline-orchestrator/internal/schedule"
	"github.com/jonathan/pipeline-orchestrator/internal/server"
)

const (
	scheduleInterval = time.Minute
	janitorInterval  = time.Minute
	drainTimeout     = 30 * time.Second
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that triggers and reports pipeline runs. When a schedules
file is configured, due schedule entries are triggered every minute.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides ORCH_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var evaluator *schedule.Evaluator
	if cfg.SchedulesFile != "" {
		entries, err := schedule.LoadFile(cfg.SchedulesFile)
		if err != nil {
			return fmt.Errorf("failed to load schedules: %w", err)
		}
		evaluator, err = schedule.NewEvaluator(entries, a.exec, time.Now(), schedule.WithLogger(logger))
		if err != nil {
			return err
		}
		logger.Info("schedules loaded", zap.Int("entries", len(entries)), zap.String("file", cfg.SchedulesFile))
	}

	opts := []server.Option{
		server.WithEvents(a.events),
		server.WithLogger(logger),
		server.WithMetrics(a.metrics, a.registry),
	}
	if a.store != nil {
		opts = append(opts, server.WithStore(a.store))
	}
	srv := server.New(server.Config{Port: cfg.Port}, a.exec, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if evaluator != nil {
		g.Go(func() error {
			evaluator.Run(gctx, scheduleInterval)
			return nil
		})
	}
	if a.memLocks != nil {
		g.Go(func() error {
			a.memLocks.RunJanitor(gctx, janitorInterval)
			return nil
		})
	}

	err = g.Wait()
	a.shutdown(drainTimeout)
	return err
}
