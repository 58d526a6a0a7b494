package pipeline

import (
	"sync"
	"time"

	"github.com/jonathan/pipeline-orchestrator/internal/template"
)

// ExecutionContext is the variable map shared by the steps of one run. Steps of
// the same level may finish concurrently, so every access is guarded.
type ExecutionContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewExecutionContext merges sources in order; later sources override earlier ones.
func NewExecutionContext(sources ...map[string]any) *ExecutionContext {
	c := &ExecutionContext{values: make(map[string]any)}
	for _, src := range sources {
		for k, v := range src {
			c.values[k] = v
		}
	}
	return c
}

// Get returns a single value.
func (c *ExecutionContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a single value.
func (c *ExecutionContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Snapshot returns a copy that is safe to hand to a processor.
func (c *ExecutionContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// MergeStepResult stores every data key as "<stepID>.<key>" and each declared
// output under its bare name. A declared output missing from data becomes "".
func (c *ExecutionContext) MergeStepResult(stepID string, outputs []string, data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range data {
		c.values[stepID+"."+k] = v
	}
	for _, name := range outputs {
		if v, ok := data[name]; ok {
			c.values[name] = v
		} else {
			c.values[name] = ""
		}
	}
}

// MarkOutputsEmpty sets the declared outputs of a failed optional step to "" so
// dependents resolve them instead of seeing a raw placeholder.
func (c *ExecutionContext) MarkOutputsEmpty(stepID string, outputs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range outputs {
		c.values[name] = ""
		c.values[stepID+"."+name] = ""
	}
}

// systemVars are the values every run starts with.
func systemVars(runID string, req TriggerRequest, projectID, environment string, now time.Time) map[string]any {
	return map[string]any{
		"project_id":   projectID,
		"environment":  environment,
		"tenant_id":    req.TenantID,
		"pipeline_id":  req.PipelineID,
		"run_id":       runID,
		"trigger_type": req.TriggerType,
		"trigger_by":   req.TriggerBy,
		"run_date":     now.UTC().Format("2006-01-02"),
	}
}

// seedContext builds the context of a new run: definition variables (which may
// themselves reference system values), then trigger parameters, then system
// values. Neither variables nor parameters can replace a system value.
func seedContext(system, variables, parameters map[string]any) *ExecutionContext {
	var resolved map[string]any
	if len(variables) > 0 {
		resolved = template.ResolveMap(variables, system)
	}
	return NewExecutionContext(resolved, parameters, system)
}
