// Package retry decides whether a failed step attempt is retried and how long to
// wait before the next one.
package retry

import (
	"math"
	"time"

	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
)

// Defaults applied when a step or the engine configuration leaves a field unset.
const (
	DefaultMaxAttempts = 3
	DefaultBase        = 2 * time.Second
	DefaultMaxDelay    = 300 * time.Second
)

// ShouldRetry reports whether attempt (1-based, the attempt that just failed) may be
// followed by another one.
func ShouldRetry(kind errclass.Kind, attempt, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return errclass.IsRetryable(kind) && attempt < maxAttempts
}

// BackoffSeconds returns base * 2^(attempt-1) capped at maxDelay. Attempt 1 is the
// first retry. Non-positive attempts are treated as 1.
func BackoffSeconds(attempt int, base, maxDelay float64) float64 {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	delay := base * math.Pow(2, float64(attempt-1))
	if math.IsInf(delay, 0) || delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Policy bundles the retry parameters for one step.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the engine-wide default policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Base: DefaultBase, MaxDelay: DefaultMaxDelay}
}

// WithMaxAttempts returns a copy of p with MaxAttempts overridden when n > 0.
func (p Policy) WithMaxAttempts(n int) Policy {
	if n > 0 {
		p.MaxAttempts = n
	}
	return p
}

// ShouldRetry applies the package-level rule with p.MaxAttempts.
func (p Policy) ShouldRetry(kind errclass.Kind, attempt int) bool {
	return ShouldRetry(kind, attempt, p.MaxAttempts)
}

// Backoff returns the delay to wait after the given failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	secs := BackoffSeconds(attempt, p.Base.Seconds(), p.MaxDelay.Seconds())
	return time.Duration(math.Round(secs * float64(time.Second)))
}
