package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	runsStarted     *prometheus.CounterVec
	runsFinished    *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsInFlight    prometheus.Gauge
	stepAttempts    *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	lockContention  *prometheus.CounterVec
	metadataFailure *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Pipeline runs that acquired the execution lock",
		}, []string{"tenant", "pipeline", "trigger_type"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Pipeline runs that reached a terminal state",
		}, []string{"tenant", "pipeline", "state"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		}, []string{"pipeline", "state"}),
		runsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Pipeline runs currently executing",
		}),
		stepAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_attempts_total",
			Help:      "Step dispatch attempts by processor and outcome kind",
		}, []string{"processor", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_attempt_duration_seconds",
			Help:      "Duration of individual step attempts",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18), // 10ms to ~22m
		}, []string{"processor"}),
		lockContention: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Triggers rejected because a run was already in progress",
		}, []string{"tenant", "pipeline"}),
		metadataFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_emit_failures_total",
			Help:      "Transition records the metadata sink failed to accept",
		}, []string{"sink"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code",
		}, []string{"method", "route", "code"}),
	}
}

// RunStarted counts a run that entered RUNNING.
func (m *Metrics) RunStarted(tenant, pipeline, triggerType string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(tenant, pipeline, triggerType).Inc()
	m.runsInFlight.Inc()
}

// RunFinished counts a run that reached a terminal state.
func (m *Metrics) RunFinished(tenant, pipeline, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(tenant, pipeline, state).Inc()
	m.runDuration.WithLabelValues(pipeline, state).Observe(d.Seconds())
	m.runsInFlight.Dec()
}

// StepAttempt records one dispatched attempt. outcome is "SUCCESS" or an error kind.
func (m *Metrics) StepAttempt(processor, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepAttempts.WithLabelValues(processor, outcome).Inc()
	m.stepDuration.WithLabelValues(processor).Observe(d.Seconds())
}

// LockContended counts a trigger answered with ALREADY_RUNNING.
func (m *Metrics) LockContended(tenant, pipeline string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(tenant, pipeline).Inc()
}

// MetadataFailed counts a transition record a sink rejected.
func (m *Metrics) MetadataFailed(sink string) {
	if m == nil {
		return
	}
	m.metadataFailure.WithLabelValues(sink).Inc()
}

// HTTPRequest counts a served API request.
func (m *Metrics) HTTPRequest(method, route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}
