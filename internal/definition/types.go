// Package definition loads and validates declarative pipeline definitions.
package definition

import (
	"encoding/json"
	"time"
)

// Definition is one pipeline as declared in a YAML or JSON document. It is
// immutable once loaded; callers reload it for every trigger.
type Definition struct {
	PipelineID     string         `json:"pipeline_id" validate:"required"`
	Description    string         `json:"description,omitempty"`
	TimeoutMinutes float64        `json:"timeout_minutes,omitempty" validate:"gte=0"`
	Variables      map[string]any `json:"variables,omitempty"`
	Steps          []Step         `json:"steps" validate:"required,min=1,dive"`
}

// Step is a single unit of work bound to a processor.
type Step struct {
	ID             string         `json:"step_id" validate:"required"`
	Description    string         `json:"description,omitempty"`
	Processor      string         `json:"processor_name" validate:"required"`
	Config         map[string]any `json:"config,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty" validate:"dive,required"`
	TimeoutMinutes float64        `json:"timeout_minutes,omitempty" validate:"gte=0"`
	MaxAttempts    int            `json:"max_attempts,omitempty" validate:"gte=0"`
	Optional       bool           `json:"optional,omitempty"`
	Outputs        []string       `json:"outputs,omitempty" validate:"dive,required"`
}

// UnmarshalJSON accepts "processor" as an alias for "processor_name".
func (s *Step) UnmarshalJSON(data []byte) error {
	type plain Step
	var aux struct {
		plain
		ProcessorAlias string `json:"processor,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Step(aux.plain)
	if s.Processor == "" {
		s.Processor = aux.ProcessorAlias
	}
	return nil
}

// Timeout returns the pipeline-level timeout, or zero when none is declared.
func (d *Definition) Timeout() time.Duration {
	return minutes(d.TimeoutMinutes)
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Processors returns the distinct processor names used by the definition.
func (d *Definition) Processors() []string {
	seen := make(map[string]bool, len(d.Steps))
	var names []string
	for _, s := range d.Steps {
		if !seen[s.Processor] {
			seen[s.Processor] = true
			names = append(names, s.Processor)
		}
	}
	return names
}

// Timeout returns the step-level timeout override, or zero.
func (s Step) Timeout() time.Duration {
	return minutes(s.TimeoutMinutes)
}

func minutes(m float64) time.Duration {
	if m <= 0 {
		return 0
	}
	return time.Duration(m * float64(time.Minute))
}
