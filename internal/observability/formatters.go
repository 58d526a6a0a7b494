// Package observability provides logging, metrics and formatted run summaries.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 20
)

// RunSummary is the printable view of a finished or in-flight pipeline run.
type RunSummary struct {
	RunID      string
	TenantID   string
	PipelineID string
	State      string
	Duration   time.Duration
	Error      string
	Steps      []StepSummary
}

// StepSummary is the printable view of one step run.
type StepSummary struct {
	StepID   string
	State    string
	Attempts int
	Duration time.Duration
	Error    string
}

// Printer handles formatted output for CLI commands
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func stateIcon(state string) string {
	switch state {
	case "COMPLETED":
		return "✓"
	case "FAILED", "TIMED_OUT":
		return "✗"
	case "SKIPPED", "CANCELLED":
		return "-"
	default:
		return "…"
	}
}

// PrintRun outputs a human-readable summary of a pipeline run and its steps.
func (p *Printer) PrintRun(run *RunSummary) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", run.RunID))
	sb.WriteString(fmt.Sprintf("Pipeline: %s/%s\n", run.TenantID, run.PipelineID))
	sb.WriteString(fmt.Sprintf("State:    %s %s\n", stateIcon(run.State), run.State))
	if run.Duration > 0 {
		sb.WriteString(fmt.Sprintf("Duration: %s\n", run.Duration.Round(time.Millisecond)))
	}
	if run.Error != "" {
		sb.WriteString(fmt.Sprintf("Error:    %s\n", run.Error))
	}

	if len(run.Steps) > 0 {
		sb.WriteString("\nSteps:\n")
		count := min(len(run.Steps), maxItemsToShow)
		for i := 0; i < count; i++ {
			s := run.Steps[i]
			sb.WriteString(fmt.Sprintf("  %s %-20s %-10s", stateIcon(s.State), s.StepID, s.State))
			if s.Attempts > 1 {
				sb.WriteString(fmt.Sprintf(" x%d", s.Attempts))
			}
			if s.Duration > 0 {
				sb.WriteString(fmt.Sprintf(" %s", s.Duration.Round(time.Millisecond)))
			}
			sb.WriteString("\n")
			if s.Error != "" {
				sb.WriteString(fmt.Sprintf("      %s\n", s.Error))
			}
		}
		if len(run.Steps) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(run.Steps)-maxItemsToShow))
		}
	}

	p.printBox("PIPELINE RUN", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintOrder outputs the execution order of a validated pipeline definition.
// Each entry is a step id with its dependencies.
func (p *Printer) PrintOrder(pipelineID string, order [][2]string) {
	var sb strings.Builder
	for i, entry := range order {
		sb.WriteString(fmt.Sprintf("%2d. %s", i+1, entry[0]))
		if entry[1] != "" {
			sb.WriteString(fmt.Sprintf("  ← %s", entry[1]))
		}
		sb.WriteString("\n")
	}
	p.printBox("EXECUTION ORDER: "+pipelineID, strings.TrimSuffix(sb.String(), "\n"))
}
