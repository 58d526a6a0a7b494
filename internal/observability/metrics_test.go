package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunStarted("acme", "daily", "api")
	m.StepAttempt("echo", "SUCCESS", 10*time.Millisecond)
	m.StepAttempt("echo", "TRANSIENT", 10*time.Millisecond)
	m.LockContended("acme", "daily")
	m.MetadataFailed("db")
	m.RunFinished("acme", "daily", "COMPLETED", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsStarted.WithLabelValues("acme", "daily", "api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("acme", "daily", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepAttempts.WithLabelValues("echo", "TRANSIENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockContention.WithLabelValues("acme", "daily")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsInFlight))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted("a", "b", "c")
		m.RunFinished("a", "b", "COMPLETED", time.Second)
		m.StepAttempt("p", "SUCCESS", time.Second)
		m.LockContended("a", "b")
		m.MetadataFailed("db")
		m.HTTPRequest("GET", "/health", "200")
	})
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = NewLogger("", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
