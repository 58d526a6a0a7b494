// Package steps resolves processor names to implementations and dispatches one
// step attempt with a hard timeout.
package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Processor is the contract every step implementation satisfies. config is already
// template-resolved; execCtx is a read-only snapshot of the run's execution context.
//
// The returned map may carry a "status" field ("SUCCESS" or "FAILED") and an
// "error" message. A returned error is equivalent to a FAILED result.
type Processor interface {
	Execute(ctx context.Context, config map[string]any, execCtx map[string]any) (map[string]any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, config map[string]any, execCtx map[string]any) (map[string]any, error)

// Execute implements Processor.
func (f ProcessorFunc) Execute(ctx context.Context, config map[string]any, execCtx map[string]any) (map[string]any, error) {
	return f(ctx, config, execCtx)
}

// UnknownProcessorError is returned when a definition names processors that were
// never registered.
type UnknownProcessorError struct {
	Names []string
}

func (e *UnknownProcessorError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("unknown processor %q", e.Names[0])
	}
	return fmt.Sprintf("unknown processors: %s", strings.Join(e.Names, ", "))
}

// Registry maps processor names to implementations. Registration happens at
// startup; lookups are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register adds a processor under name. Names are unique.
func (r *Registry) Register(name string, p Processor) error {
	if name == "" {
		return fmt.Errorf("processor name is empty")
	}
	if p == nil {
		return fmt.Errorf("processor %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processors[name]; exists {
		return fmt.Errorf("processor %q already registered", name)
	}
	r.processors[name] = p
	return nil
}

// MustRegister is Register that panics on error, for static wiring.
func (r *Registry) MustRegister(name string, p Processor) {
	if err := r.Register(name, p); err != nil {
		panic(err)
	}
}

// Lookup returns the processor registered under name.
func (r *Registry) Lookup(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check returns an *UnknownProcessorError naming every unregistered name.
func (r *Registry) Check(names ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, name := range names {
		if _, ok := r.processors[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &UnknownProcessorError{Names: missing}
	}
	return nil
}
