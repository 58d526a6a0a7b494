package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/pipeline-orchestrator/internal/db"
	"github.com/jonathan/pipeline-orchestrator/internal/definition"
	"github.com/jonathan/pipeline-orchestrator/internal/lock"
	"github.com/jonathan/pipeline-orchestrator/internal/metadata"
	"github.com/jonathan/pipeline-orchestrator/internal/observability"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline/steps"
	"github.com/jonathan/pipeline-orchestrator/internal/processors"
	"github.com/jonathan/pipeline-orchestrator/internal/retry"
	"github.com/jonathan/pipeline-orchestrator/internal/server/ratelimit"
)

var definitions = map[string]string{
	"daily.yaml": `
pipeline_id: daily
steps:
  - step_id: extract
    processor_name: echo
    config:
      rows: 3
  - step_id: load
    processor_name: echo
    depends_on: [extract]
`,
	"slow.yaml": `
pipeline_id: slow
steps:
  - step_id: wait
    processor_name: sleep
    config:
      duration: 300ms
  - step_id: after
    processor_name: echo
    depends_on: [wait]
`,
	"broken.yaml": `
pipeline_id: broken
steps:
  - step_id: only
    processor_name: does_not_exist
`,
}

type testServer struct {
	*Server
	exec   *pipeline.Executor
	events *metadata.Broadcaster
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "acme"), 0o755))
	for name, body := range definitions {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "acme", name), []byte(body), 0o644))
	}

	reg := steps.NewRegistry()
	require.NoError(t, processors.RegisterBuiltins(reg, processors.Deps{}))

	events := metadata.NewBroadcaster()
	exec := pipeline.New(pipeline.Config{
		Holder: "test",
		Retry:  retry.Policy{MaxAttempts: 1, Base: time.Millisecond, MaxDelay: time.Millisecond},
	}, &definition.FileSource{Dir: dir}, steps.NewDispatcher(reg), lock.NewMemory(time.Hour),
		pipeline.WithSink(events))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = exec.Shutdown(ctx)
	})

	opts = append([]Option{
		WithEvents(events),
		WithRateLimiter(ratelimit.NewLimiter(&ratelimit.Config{Enabled: false})),
	}, opts...)
	return &testServer{Server: New(Config{}, exec, opts...), exec: exec, events: events}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestTrigger_Accepted(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/tenants/acme/pipelines/daily/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[RunResponse](t, w)
	assert.Equal(t, "RUNNING", resp.Status)
	require.NotEmpty(t, resp.RunID)

	run, err := s.exec.Wait(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunCompleted, run.State)
	assert.Equal(t, pipeline.TriggerAPI, run.TriggerType)
}

func TestTrigger_Wait(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/tenants/acme/pipelines/daily/runs", TriggerBody{
		Parameters: map[string]any{"lookback_days": 2},
		TriggerBy:  "ops@example.com",
		Wait:       true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RunResponse](t, w)
	assert.Equal(t, "COMPLETED", resp.Status)

	run, ok := s.exec.GetRun(resp.RunID)
	require.True(t, ok)
	assert.Equal(t, "ops@example.com", run.TriggerBy)
}

func TestTrigger_AlreadyRunning(t *testing.T) {
	s := newTestServer(t)

	first := s.do(t, http.MethodPost, "/tenants/acme/pipelines/slow/runs", nil)
	require.Equal(t, http.StatusAccepted, first.Code)
	firstResp := decode[RunResponse](t, first)

	second := s.do(t, http.MethodPost, "/tenants/acme/pipelines/slow/runs", nil)
	require.Equal(t, http.StatusConflict, second.Code)
	secondResp := decode[RunResponse](t, second)
	assert.Equal(t, "ALREADY_RUNNING", secondResp.Status)
	assert.Equal(t, firstResp.RunID, secondResp.RunID)
}

func TestTrigger_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown pipeline", "/tenants/acme/pipelines/missing/runs", "", http.StatusNotFound},
		{"unknown processor", "/tenants/acme/pipelines/broken/runs", "", http.StatusBadRequest},
		{"malformed body", "/tenants/acme/pipelines/daily/runs", "{not json", http.StatusBadRequest},
		{"bad tenant id", "/tenants/-acme/pipelines/daily/runs", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestGetRunAndSteps(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/tenants/acme/pipelines/daily/runs", TriggerBody{Wait: true})
	require.Equal(t, http.StatusOK, w.Code)
	runID := decode[RunResponse](t, w).RunID

	w = s.do(t, http.MethodGet, "/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[RunView](t, w)
	assert.Equal(t, "COMPLETED", view.State)
	assert.Equal(t, "acme", view.TenantID)
	require.Len(t, view.Steps, 2)
	assert.Equal(t, "extract", view.Steps[0].StepID)
	assert.Equal(t, "echo", view.Steps[0].Processor)

	w = s.do(t, http.MethodGet, "/runs/"+runID+"/steps", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[RunStepsListResponse](t, w)
	assert.Equal(t, RunStepsSummary{Total: 2, Completed: 2}, list.Summary)

	w = s.do(t, http.MethodGet, "/runs/"+runID+"/steps?state=FAILED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[RunStepsListResponse](t, w).Steps)

	w = s.do(t, http.MethodGet, "/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/tenants/acme/pipelines/slow/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	runID := decode[RunResponse](t, w).RunID

	w = s.do(t, http.MethodPost, "/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "CANCELLING", decode[RunResponse](t, w).Status)

	run, err := s.exec.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunCancelled, run.State)

	w = s.do(t, http.MethodPost, "/runs/"+runID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/runs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns_FromExecutor(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/tenants/acme/pipelines/daily/runs", TriggerBody{Wait: true})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(t, http.MethodGet, "/runs?pipeline_id=daily", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[RunListResponse](t, w)
	assert.Equal(t, 2, list.Count)

	w = s.do(t, http.MethodGet, "/runs?limit=1", nil)
	assert.Equal(t, 1, decode[RunListResponse](t, w).Count)

	w = s.do(t, http.MethodGet, "/runs?pipeline_id=other", nil)
	assert.Equal(t, 0, decode[RunListResponse](t, w).Count)

	w = s.do(t, http.MethodGet, "/runs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunEvents_Live(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	w := s.do(t, http.MethodPost, "/tenants/acme/pipelines/slow/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	runID := decode[RunResponse](t, w).RunID

	resp, err := http.Get(ts.URL + "/runs/" + runID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	stream := string(body)
	assert.Contains(t, stream, "event: transition")
	assert.Contains(t, stream, `"new_state":"COMPLETED"`)
	assert.Contains(t, stream, "event: complete")
	assert.Zero(t, s.events.Subscribers(runID))
}

func TestRunEvents_FinishedRun(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/tenants/acme/pipelines/daily/runs", TriggerBody{Wait: true})
	runID := decode[RunResponse](t, w).RunID

	w = s.do(t, http.MethodGet, "/runs/"+runID+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event: complete")
	assert.Contains(t, w.Body.String(), `"state":"COMPLETED"`)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, WithRateLimiter(ratelimit.NewLimiter(&ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  2,
		DefaultWindow: time.Minute,
	})))

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodGet, "/runs", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	w := s.do(t, http.MethodGet, "/runs", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Health checks are never limited.
	w = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestServer(t, WithMetrics(observability.NewMetrics(reg), reg))

	s.do(t, http.MethodGet, "/health", nil)
	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "orchestrator_http_requests_total")
	assert.Contains(t, w.Body.String(), `route="GET /health"`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodOptions, "/runs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

type fakeStore struct {
	runs        map[uuid.UUID]*db.Run
	steps       map[uuid.UUID][]db.StepRun
	transitions map[uuid.UUID][]db.Transition
	pingErr     error
}

func (f *fakeStore) GetRun(_ context.Context, id uuid.UUID) (*db.Run, error) {
	return f.runs[id], nil
}

func (f *fakeStore) ListRuns(_ context.Context, filters db.RunFilters) ([]db.Run, error) {
	var out []db.Run
	for _, r := range f.runs {
		if filters.TenantID == "" || r.TenantID == filters.TenantID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListStepRuns(_ context.Context, id uuid.UUID, state *string) ([]db.StepRun, error) {
	var out []db.StepRun
	for _, s := range f.steps[id] {
		if state == nil || s.State == *state {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTransitions(_ context.Context, id uuid.UUID) ([]db.Transition, error) {
	return f.transitions[id], nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func TestStoreFallback(t *testing.T) {
	id := uuid.New()
	started := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	msg := "HTTP 404"
	kind := "PERMANENT"
	store := &fakeStore{
		runs: map[uuid.UUID]*db.Run{id: {
			ID: id, TenantID: "acme", PipelineID: "daily", State: db.RunStateFailed,
			TriggerType: "scheduled", StartedAt: &started, EndedAt: &ended, ErrorMessage: &msg,
		}},
		steps: map[uuid.UUID][]db.StepRun{id: {
			{RunID: id, StepID: "extract", State: db.StepStateFailed, AttemptCount: 1, ErrorMessage: &msg, ErrorKind: &kind},
			{RunID: id, StepID: "load", State: db.StepStateSkipped},
		}},
		transitions: map[uuid.UUID][]db.Transition{id: {
			{RunID: id, TenantID: "acme", PipelineID: "daily", OldState: "PENDING", NewState: "RUNNING", OccurredAt: started},
			{RunID: id, TenantID: "acme", PipelineID: "daily", OldState: "RUNNING", NewState: "FAILED", OccurredAt: ended},
		}},
	}
	s := newTestServer(t, WithStore(store))

	w := s.do(t, http.MethodGet, "/runs/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[RunView](t, w)
	assert.Equal(t, "FAILED", view.State)
	assert.Equal(t, int64(90000), view.DurationMs)
	require.Len(t, view.Steps, 2)
	assert.Equal(t, "PERMANENT", view.Steps[0].ErrorKind)

	w = s.do(t, http.MethodGet, "/runs/"+id.String()+"/steps?state=SKIPPED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[RunStepsListResponse](t, w)
	assert.Equal(t, RunStepsSummary{Total: 1, Skipped: 1}, list.Summary)

	w = s.do(t, http.MethodGet, "/runs?tenant_id=acme", nil)
	assert.Equal(t, 1, decode[RunListResponse](t, w).Count)

	w = s.do(t, http.MethodGet, "/runs/"+id.String()+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, strings.Count(w.Body.String(), "event: transition"))
	assert.Contains(t, w.Body.String(), `"state":"FAILED"`)

	w = s.do(t, http.MethodGet, "/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["metadata_store"])
}
