package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/pipeline-orchestrator/internal/definition"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline"
)

func TestLoadFile(t *testing.T) {
	entries, err := LoadFile("testdata/schedules.yaml")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "nightly-usage", entries[0].Name)
	assert.Equal(t, "acme", entries[0].TenantID)
	assert.Equal(t, "daily_usage", entries[0].PipelineID)
	assert.Equal(t, float64(1), entries[0].Parameters["lookback_days"])
	assert.True(t, entries[0].IsEnabled())
	assert.False(t, entries[2].IsEnabled())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "bad cron",
			doc:  "schedules:\n  - {name: a, tenant_id: t, pipeline_id: p, cron: 'every day'}\n",
			want: "invalid cron",
		},
		{
			name: "duplicate",
			doc:  "schedules:\n  - {name: a, tenant_id: t, pipeline_id: p, cron: '@daily'}\n  - {name: a, tenant_id: t, pipeline_id: q, cron: '@daily'}\n",
			want: "duplicate name",
		},
		{
			name: "missing field",
			doc:  "schedules:\n  - {name: a, tenant_id: t, cron: '@daily'}\n",
			want: "pipeline_id",
		},
		{
			name: "unknown field",
			doc:  "schedules:\n  - {name: a, tenant_id: t, pipeline_id: p, cron: '@daily', retries: 3}\n",
			want: "retries",
		},
		{
			name: "path traversal",
			doc:  "schedules:\n  - {name: a, tenant_id: '..', pipeline_id: p, cron: '@daily'}\n",
			want: "simple identifiers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), definition.FormatYAML)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

type fakeTrigger struct {
	mu      sync.Mutex
	reqs    []pipeline.TriggerRequest
	running map[string]string
	err     error
}

func (f *fakeTrigger) Start(_ context.Context, req pipeline.TriggerRequest) (pipeline.TriggerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return pipeline.TriggerResult{}, f.err
	}
	if id, ok := f.running[req.PipelineID]; ok {
		return pipeline.TriggerResult{RunID: id, Status: pipeline.StatusAlreadyRunning}, nil
	}
	return pipeline.TriggerResult{RunID: "run-" + req.PipelineID, Status: pipeline.StatusRunning}, nil
}

func entries(t *testing.T) []Entry {
	t.Helper()
	e, err := LoadFile("testdata/schedules.yaml")
	require.NoError(t, err)
	return e
}

func TestEvaluator_Due(t *testing.T) {
	start := time.Date(2026, 5, 1, 1, 30, 0, 0, time.UTC)
	ev, err := NewEvaluator(entries(t), &fakeTrigger{}, start)
	require.NoError(t, err)

	names := func(es []Entry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Name)
		}
		return out
	}

	assert.Empty(t, ev.Due(start.Add(10*time.Minute)))
	assert.Equal(t, []string{"nightly-usage", "hourly-sync"}, names(ev.Due(start.Add(30*time.Minute))))
	// Already evaluated at 02:00; nothing new until the next hour.
	assert.Empty(t, ev.Due(start.Add(31*time.Minute)))
	// A day later only the hourly entry is due; missed hours collapse into one firing.
	assert.Equal(t, []string{"hourly-sync"}, names(ev.Due(start.Add(24*time.Hour))))
}

func TestEvaluator_Evaluate(t *testing.T) {
	start := time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC)
	trig := &fakeTrigger{running: map[string]string{"crm_sync": "run-existing"}}
	ev, err := NewEvaluator(entries(t), trig, start, WithConcurrency(2))
	require.NoError(t, err)

	firings, err := ev.Evaluate(context.Background(), start.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, firings, 2)

	byName := map[string]Firing{}
	for _, f := range firings {
		byName[f.Entry] = f
	}
	assert.Equal(t, pipeline.StatusRunning, byName["nightly-usage"].Status)
	assert.Equal(t, pipeline.StatusAlreadyRunning, byName["hourly-sync"].Status)
	assert.Equal(t, "run-existing", byName["hourly-sync"].RunID)

	require.Len(t, trig.reqs, 2)
	for _, req := range trig.reqs {
		assert.Equal(t, pipeline.TriggerScheduled, req.TriggerType)
		assert.Contains(t, req.TriggerBy, "schedule:")
	}
}

func TestEvaluator_TriggerErrorsAreReported(t *testing.T) {
	start := time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC)
	trig := &fakeTrigger{err: errors.New("definition not found")}
	ev, err := NewEvaluator(entries(t), trig, start)
	require.NoError(t, err)

	firings, err := ev.Evaluate(context.Background(), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, firings)
	for _, f := range firings {
		assert.Error(t, f.Err)
	}
}

func TestNewEvaluator_RejectsBadCron(t *testing.T) {
	_, err := NewEvaluator([]Entry{{Name: "x", Cron: "nope"}}, &fakeTrigger{}, time.Now())
	assert.Error(t, err)
}
