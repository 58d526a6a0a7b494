// Package schedule triggers pipelines from cron entries.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/jonathan/pipeline-orchestrator/internal/definition"
	"github.com/jonathan/pipeline-orchestrator/internal/schemas"
)

// Entry is one scheduled trigger.
type Entry struct {
	Name       string         `json:"name"`
	TenantID   string         `json:"tenant_id"`
	PipelineID string         `json:"pipeline_id"`
	Cron       string         `json:"cron"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Enabled    *bool          `json:"enabled,omitempty"`
}

// IsEnabled reports whether the entry fires. Entries are enabled unless they say otherwise.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

type file struct {
	Schedules []Entry `json:"schedules"`
}

// ValidationError lists every problem in a schedule file.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule file: %v", e.Issues)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor such as "@daily".
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// LoadFile reads a YAML or JSON schedule file.
func LoadFile(path string) ([]Entry, error) {
	format, err := definition.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes and validates a schedule document.
func Parse(data []byte, format definition.Format) ([]Entry, error) {
	doc, err := definition.Parse(data, format)
	if err != nil {
		return nil, err
	}
	if err := schemas.ValidateSchedule(doc); err != nil {
		var schemaErr *schemas.ValidationError
		if errors.As(err, &schemaErr) {
			return nil, &ValidationError{Issues: schemaErr.Messages()}
		}
		return nil, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize schedule file: %w", err)
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &ValidationError{Issues: []string{err.Error()}}
	}

	var issues []string
	seen := make(map[string]bool, len(f.Schedules))
	for i, e := range f.Schedules {
		if seen[e.Name] {
			issues = append(issues, fmt.Sprintf("schedules[%d]: duplicate name %q", i, e.Name))
		}
		seen[e.Name] = true
		if !definition.ValidIdentifier(e.TenantID) || !definition.ValidIdentifier(e.PipelineID) {
			issues = append(issues, fmt.Sprintf("schedules[%d]: tenant_id and pipeline_id must be simple identifiers", i))
		}
		if _, err := ParseCron(e.Cron); err != nil {
			issues = append(issues, fmt.Sprintf("schedules[%d]: invalid cron %q: %v", i, e.Cron, err))
		}
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return f.Schedules, nil
}
