package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/pipeline-orchestrator/internal/definition"
	"github.com/jonathan/pipeline-orchestrator/internal/observability"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline/steps"
	"github.com/jonathan/pipeline-orchestrator/internal/processors"
	"github.com/jonathan/pipeline-orchestrator/internal/schedule"
)

var validateCmd = &cobra.Command{
	Use:   "validate [tenant_id pipeline_id]",
	Short: "Validate a pipeline definition or schedule file",
	Long: `Loads a pipeline definition the way a trigger would, checks it against the schema,
the dependency graph and the processor registry, and prints its execution order.

Use --file to validate a definition file directly and --schedules to validate a
schedule file.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if validateFile != "" || validateSchedules != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: runValidate,
}

var (
	validateFile      string
	validateSchedules string
)

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Path to a pipeline definition file")
	validateCmd.Flags().StringVar(&validateSchedules, "schedules", "", "Path to a schedule file")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if validateSchedules != "" {
		entries, err := schedule.LoadFile(validateSchedules)
		if err != nil {
			return err
		}
		if _, err := schedule.NewEvaluator(entries, nil, time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Schedule file is valid: %d entries\n", len(entries))
		if validateFile == "" {
			return nil
		}
	}

	var def *definition.Definition
	var err error
	if validateFile != "" {
		def, err = definition.LoadFile(validateFile, nil)
	} else {
		cfg, _, cerr := loadConfig()
		if cerr != nil {
			return cerr
		}
		def, err = newSource(cfg).Load(cmd.Context(), args[0], args[1])
	}
	if err != nil {
		return err
	}

	reg := steps.NewRegistry()
	if err := processors.RegisterBuiltins(reg, processors.Deps{}); err != nil {
		return err
	}
	if err := reg.Check(def.Processors()...); err != nil {
		return err
	}

	order, err := def.Order()
	if err != nil {
		return err
	}
	entries := make([][2]string, len(order))
	for i, s := range order {
		entries[i] = [2]string{s.ID, strings.Join(s.DependsOn, ", ")}
	}
	observability.NewPrinter(out).PrintOrder(def.PipelineID, entries)
	timeout := "none"
	if d := def.Timeout(); d > 0 {
		timeout = d.String()
	}
	fmt.Fprintf(out, "Definition is valid: %d steps, pipeline timeout %s\n", len(def.Steps), timeout)
	return nil
}
