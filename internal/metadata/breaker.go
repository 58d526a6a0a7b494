package metadata

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSink stops calling a failing sink for a while so that an unavailable
// metadata store does not add its timeout to every transition.
type BreakerSink struct {
	next Sink
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings tunes NewBreakerSink. Zero values take defaults.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker (default 5).
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing (default 30s).
	OpenTimeout time.Duration
}

// NewBreakerSink wraps next in a circuit breaker named name.
func NewBreakerSink(name string, next Sink, settings BreakerSettings, logger *zap.Logger) *BreakerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("metadata sink breaker state changed",
				zap.String("sink", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerSink{next: next, cb: cb}
}

// Record implements Sink. While the breaker is open it fails fast with
// gobreaker.ErrOpenState.
func (s *BreakerSink) Record(ctx context.Context, rec TransitionRecord) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Record(ctx, rec)
	})
	return err
}

// State returns the breaker state.
func (s *BreakerSink) State() gobreaker.State {
	return s.cb.State()
}
