package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/pipeline-orchestrator/internal/observability"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run <tenant_id> <pipeline_id>",
	Short: "Run one pipeline to completion",
	Long: `Triggers a single run of a tenant's pipeline in this process and waits for it.

Parameters are passed as --param key=value and are parsed as YAML scalars, so
--param limit=10 is a number and --param dry_run=true a boolean. Interrupting the
command cancels the run.`,
	Args: cobra.ExactArgs(2),
	RunE: runPipelineCmd,
}

var (
	runParams    []string
	runTriggerBy string
)

func init() {
	runCommand.Flags().StringArrayVarP(&runParams, "param", "p", nil, "Run parameter as key=value (repeatable)")
	runCommand.Flags().StringVar(&runTriggerBy, "trigger-by", "cli", "Identity recorded as the trigger of the run")
	rootCmd.AddCommand(runCommand)
}

// parseParams turns key=value pairs into run parameters.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		switch value.(type) {
		case map[string]any, []any:
			value = raw
		}
		params[key] = value
	}
	return params, nil
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	params, err := parseParams(runParams)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
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

	res, err := a.exec.Run(ctx, pipeline.TriggerRequest{
		TenantID:    args[0],
		PipelineID:  args[1],
		Parameters:  params,
		TriggerType: pipeline.TriggerManual,
		TriggerBy:   runTriggerBy,
	})
	if err != nil {
		return err
	}
	if res.Status == pipeline.StatusAlreadyRunning {
		return fmt.Errorf("pipeline %s/%s is already running as run %s", args[0], args[1], res.RunID)
	}

	run, ok := a.exec.GetRun(res.RunID)
	if !ok {
		return fmt.Errorf("run %s not found after completion", res.RunID)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintRun(summarize(run))

	if run.State != pipeline.RunCompleted {
		return fmt.Errorf("run %s finished %s", run.RunID, run.State)
	}
	return nil
}
