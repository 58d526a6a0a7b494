// Package server provides the HTTP API for triggering and inspecting pipeline runs.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/pipeline-orchestrator/internal/definition"
	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline/steps"
)

// ErrRunNotFound indicates the run is unknown to both the executor and the store.
type ErrRunNotFound struct {
	RunID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		notFound   *ErrRunNotFound
		validation *ErrValidation
		defInvalid *definition.ValidationError
		loadErr    *definition.LoadError
		unknown    *steps.UnknownProcessorError
		failure    *errclass.Failure
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &notFound), errors.Is(err, definition.ErrNotFound), errors.Is(err, pipeline.ErrRunNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &defInvalid), errors.As(err, &loadErr), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.As(err, &failure) && failure.Kind == errclass.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
