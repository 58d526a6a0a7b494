package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
)

func TestBackoffSeconds(t *testing.T) {
	assert.Equal(t, 2.0, BackoffSeconds(1, 2, 300))
	assert.Equal(t, 4.0, BackoffSeconds(2, 2, 300))
	assert.Equal(t, 8.0, BackoffSeconds(3, 2, 300))
	assert.Equal(t, 256.0, BackoffSeconds(8, 2, 300))
	assert.Equal(t, 300.0, BackoffSeconds(9, 2, 300))
	assert.Equal(t, 300.0, BackoffSeconds(5000, 2, 300))
	assert.Equal(t, 2.0, BackoffSeconds(0, 2, 300))
	assert.Equal(t, 0.0, BackoffSeconds(3, 0, 300))
}

func TestBackoffSeconds_Monotonic(t *testing.T) {
	prev := 0.0
	for n := 1; n < 64; n++ {
		d := BackoffSeconds(n, 2, 300)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 300.0)
		prev = d
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		kind    errclass.Kind
		attempt int
		max     int
		want    bool
	}{
		{errclass.KindTransient, 1, 3, true},
		{errclass.KindTransient, 2, 3, true},
		{errclass.KindTransient, 3, 3, false},
		{errclass.KindTimeout, 1, 3, true},
		{errclass.KindPermanent, 1, 3, false},
		{errclass.KindValidation, 1, 3, false},
		{errclass.KindUnknown, 1, 3, false},
		{errclass.KindDependencyFailure, 1, 3, false},
		{errclass.KindTransient, 1, 1, false},
		{errclass.KindTransient, 2, 0, true},
		{errclass.KindTransient, 3, 0, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldRetry(tt.kind, tt.attempt, tt.max), "%s attempt=%d max=%d", tt.kind, tt.attempt, tt.max)
	}
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 300*time.Second, p.Backoff(20))

	p = p.WithMaxAttempts(5)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.True(t, p.ShouldRetry(errclass.KindTransient, 4))
	assert.False(t, p.ShouldRetry(errclass.KindTransient, 5))

	assert.Equal(t, 5, p.WithMaxAttempts(0).MaxAttempts)

	fast := Policy{MaxAttempts: 3, Base: time.Millisecond, MaxDelay: 3 * time.Millisecond}
	assert.Equal(t, time.Millisecond, fast.Backoff(1))
	assert.Equal(t, 3*time.Millisecond, fast.Backoff(3))
}
