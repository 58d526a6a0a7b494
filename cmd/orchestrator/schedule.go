package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/pipeline-orchestrator/internal/observability"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline"
	"github.com/jonathan/pipeline-orchestrator/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Trigger the schedule entries due in a lookback window",
	Long: `Evaluates the schedule file once, as if the evaluator had last run --since ago,
triggers every due entry and waits for the started runs. Suitable for running
from an external cron.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

var (
	scheduleFile  string
	scheduleSince time.Duration
)

func init() {
	scheduleCmd.Flags().StringVarP(&scheduleFile, "file", "f", "", "Schedule file (overrides ORCH_SCHEDULES_FILE)")
	scheduleCmd.Flags().DurationVar(&scheduleSince, "since", time.Minute, "Lookback window for due entries")
	rootCmd.AddCommand(scheduleCmd)
}

var _ schedule.Trigger = (*pipeline.Executor)(nil)

func runSchedule(cmd *cobra.Command, _ []string) error {
	if scheduleSince <= 0 {
		return fmt.Errorf("--since must be positive")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	path := scheduleFile
	if path == "" {
		path = cfg.SchedulesFile
	}
	if path == "" {
		return fmt.Errorf("no schedule file: pass --file or set ORCH_SCHEDULES_FILE")
	}
	entries, err := schedule.LoadFile(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	evaluator, err := schedule.NewEvaluator(entries, a.exec, now.Add(-scheduleSince), schedule.WithLogger(logger))
	if err != nil {
		return err
	}
	firings, err := evaluator.Evaluate(ctx, now)
	if err != nil {
		a.shutdown(drainTimeout)
		return err
	}

	out := cmd.OutOrStdout()
	if len(firings) == 0 {
		fmt.Fprintln(out, "No schedule entries due.")
		return nil
	}

	printer := observability.NewPrinter(out)
	var errs []error
	for _, f := range firings {
		switch {
		case f.Err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", f.Entry, f.Err))
			continue
		case f.Status == pipeline.StatusAlreadyRunning:
			fmt.Fprintf(out, "%s: skipped, run %s already in progress\n", f.Entry, f.RunID)
			continue
		}
		run, err := a.exec.Wait(ctx, f.RunID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Entry, err))
			continue
		}
		printer.PrintRun(summarize(run))
		if run.State != pipeline.RunCompleted {
			errs = append(errs, fmt.Errorf("%s: run %s finished %s", f.Entry, run.RunID, run.State))
		}
	}
	if ctx.Err() != nil {
		logger.Warn("interrupted, cancelling scheduled runs", zap.Error(ctx.Err()))
		a.shutdown(drainTimeout)
	}
	return errors.Join(errs...)
}
