// Package errclass maps arbitrary step failures onto a small error taxonomy that
// drives the retry policy and the pipeline abort decision.
//
// Processors are pluggable and return heterogeneous errors, so classification is a
// case-insensitive pattern match over the failure's text. A processor that knows the
// kind of its failure can wrap it in a *Failure, which is honored before any pattern.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Kind is the taxonomy bucket of a failure.
type Kind string

const (
	KindTransient         Kind = "TRANSIENT"
	KindPermanent         Kind = "PERMANENT"
	KindTimeout           Kind = "TIMEOUT"
	KindValidation        Kind = "VALIDATION_ERROR"
	KindDependencyFailure Kind = "DEPENDENCY_FAILURE"
	KindUnknown           Kind = "UNKNOWN"
)

// Failure is an error that carries an explicit Kind.
type Failure struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Failure) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Failure) Unwrap() error {
	return e.Cause
}

// New returns a Failure of the given kind.
func New(kind Kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message}
}

// Wrap returns a Failure of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Cause: cause}
}

// Validation returns a VALIDATION_ERROR failure with a formatted message.
func Validation(format string, args ...any) *Failure {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

var (
	timeoutPatterns = compile(
		`deadline exceeded`,
		`\btimed ?out\b`,
		`\btimeouts?\b`,
	)

	validationPatterns = compile(
		`invalid argument`,
		`invalid input`,
		`malformed`,
		`validation (error|failed)`,
		`missing required`,
		`cannot unmarshal`,
	)

	transientPatterns = compile(
		`connection (reset|refused|aborted|closed)`,
		`broken pipe`,
		`\beof\b`,
		`rate.?limit`,
		`too many requests`,
		`\b429\b`,
		`\b5\d\d\b`,
		`internal server error`,
		`bad gateway`,
		`service unavailable`,
		`gateway timeout`,
		`temporar(y|ily)`,
		`try again`,
		`\block(ed)?\b`,
		`deadlock`,
		`contention`,
		`could not serialize`,
		`quota exceeded`,
		`resource exhausted`,
		`no such host`,
		`\bdns\b`,
		`network (is )?unreachable`,
		`i/o timeout`,
	)

	permanentPatterns = compile(
		`\b401\b`,
		`unauthori[sz]ed`,
		`\b403\b`,
		`forbidden`,
		`permission denied`,
		`\b404\b`,
		`not found`,
		`does not exist`,
		`\b400\b`,
		`bad request`,
		`\b409\b`,
		`conflict`,
		`duplicate`,
		`already exists`,
	)
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Classify maps a failure to a Kind. Either argument may be empty; when both are
// present the message and the error text are matched together.
//
// First match wins: explicit timeout, structural validation failure, transient
// pattern, permanent pattern. Anything else is KindUnknown.
func Classify(err error, message string) Kind {
	if err == nil && strings.TrimSpace(message) == "" {
		return KindUnknown
	}

	var failure *Failure
	if errors.As(err, &failure) && failure.Kind != "" {
		return failure.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	text := message
	if err != nil {
		text = strings.TrimSpace(message + " " + err.Error())
	}

	switch {
	case matchesAny(text, timeoutPatterns):
		return KindTimeout
	case matchesAny(text, validationPatterns):
		return KindValidation
	case matchesAny(text, transientPatterns):
		return KindTransient
	case matchesAny(text, permanentPatterns):
		return KindPermanent
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether failures of this kind may be retried.
// UNKNOWN is deliberately not retryable.
func IsRetryable(kind Kind) bool {
	return kind == KindTransient || kind == KindTimeout
}

// AlwaysAborts reports whether the kind aborts the pipeline even when the step is
// optional. A validation error is a configuration defect, not a runtime condition.
func AlwaysAborts(kind Kind) bool {
	return kind == KindValidation
}
