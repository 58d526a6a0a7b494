package definition

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no definition exists for a tenant and pipeline.
var ErrNotFound = errors.New("pipeline definition not found")

// ValidationError lists every problem found in a definition. It prevents any run
// from starting.
type ValidationError struct {
	PipelineID string
	Issues     []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("invalid pipeline %q: %s", e.PipelineID, e.Issues[0])
	}
	return fmt.Sprintf("invalid pipeline %q: %s", e.PipelineID, strings.Join(e.Issues, "; "))
}

// LoadError wraps failures reading or parsing a definition document.
type LoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load %s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
