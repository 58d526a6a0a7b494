package pipeline

import (
	"errors"
	"fmt"
)

// ErrRunNotFound is returned for run ids the executor does not track.
var ErrRunNotFound = errors.New("run not found")

// TriggerError reports a trigger rejected before any run was created: the
// definition could not be loaded, failed validation, or names unknown processors.
type TriggerError struct {
	TenantID   string
	PipelineID string
	Cause      error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("cannot trigger %s/%s: %v", e.TenantID, e.PipelineID, e.Cause)
}

func (e *TriggerError) Unwrap() error {
	return e.Cause
}
