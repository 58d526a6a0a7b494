package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/pipeline-orchestrator/internal/db"
	"github.com/jonathan/pipeline-orchestrator/internal/definition"
	"github.com/jonathan/pipeline-orchestrator/internal/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TriggerBody is the optional request body of a trigger.
type TriggerBody struct {
	Parameters map[string]any `json:"parameters,omitempty"`
	TriggerBy  string         `json:"trigger_by,omitempty"`
	// Wait holds the request open until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

// RunResponse is returned by trigger and cancel.
type RunResponse struct {
	RunID        string `json:"run_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// RunView is a run as reported by the API, from the executor or the store.
type RunView struct {
	RunID        string     `json:"run_id"`
	TenantID     string     `json:"tenant_id"`
	PipelineID   string     `json:"pipeline_id"`
	State        string     `json:"state"`
	TriggerType  string     `json:"trigger_type"`
	TriggerBy    string     `json:"trigger_by,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Steps        []StepView `json:"steps,omitempty"`
}

// StepView is one step of a run.
type StepView struct {
	StepID       string     `json:"step_id"`
	Processor    string     `json:"processor_name,omitempty"`
	State        string     `json:"state"`
	AttemptCount int        `json:"attempt_count"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
}

// RunListResponse is the body of GET /runs.
type RunListResponse struct {
	Runs  []RunView `json:"runs"`
	Count int       `json:"count"`
}

func viewFromRun(run *pipeline.PipelineRun, withSteps bool) RunView {
	v := RunView{
		RunID:        run.RunID,
		TenantID:     run.TenantID,
		PipelineID:   run.PipelineID,
		State:        string(run.State),
		TriggerType:  run.TriggerType,
		TriggerBy:    run.TriggerBy,
		EndedAt:      run.EndedAt,
		DurationMs:   run.Duration().Milliseconds(),
		ErrorMessage: run.ErrorMessage,
	}
	if !run.StartedAt.IsZero() {
		started := run.StartedAt
		v.StartedAt = &started
	}
	if withSteps {
		v.Steps = stepViews(run.Steps)
	}
	return v
}

func stepViews(steps []*pipeline.StepRun) []StepView {
	out := make([]StepView, 0, len(steps))
	for _, s := range steps {
		sv := StepView{
			StepID:       s.StepID,
			Processor:    s.Processor,
			State:        string(s.State),
			AttemptCount: s.AttemptCount,
			EndedAt:      s.EndedAt,
			DurationMs:   s.DurationMs,
			ErrorMessage: s.ErrorMessage,
			ErrorKind:    string(s.ErrorKind),
		}
		if !s.StartedAt.IsZero() {
			started := s.StartedAt
			sv.StartedAt = &started
		}
		out = append(out, sv)
	}
	return out
}

func viewFromRecord(run *db.Run) RunView {
	v := RunView{
		RunID:       run.ID.String(),
		TenantID:    run.TenantID,
		PipelineID:  run.PipelineID,
		State:       run.State,
		TriggerType: run.TriggerType,
		TriggerBy:   run.TriggerBy,
		StartedAt:   run.StartedAt,
		EndedAt:     run.EndedAt,
	}
	if run.ErrorMessage != nil {
		v.ErrorMessage = *run.ErrorMessage
	}
	if run.StartedAt != nil && run.EndedAt != nil {
		v.DurationMs = run.EndedAt.Sub(*run.StartedAt).Milliseconds()
	}
	return v
}

func stepViewsFromRecords(records []db.StepRun) []StepView {
	out := make([]StepView, 0, len(records))
	for _, r := range records {
		sv := StepView{
			StepID:       r.StepID,
			State:        r.State,
			AttemptCount: r.AttemptCount,
			StartedAt:    r.StartedAt,
			EndedAt:      r.EndedAt,
		}
		if r.DurationMs != nil {
			sv.DurationMs = *r.DurationMs
		}
		if r.ErrorMessage != nil {
			sv.ErrorMessage = *r.ErrorMessage
		}
		if r.ErrorKind != nil {
			sv.ErrorKind = *r.ErrorKind
		}
		out = append(out, sv)
	}
	return out
}

var validate = validator.New()

// handleTrigger starts a run of a tenant's pipeline.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var body TriggerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req := pipeline.TriggerRequest{
		TenantID:    r.PathValue("tenant_id"),
		PipelineID:  r.PathValue("pipeline_id"),
		Parameters:  body.Parameters,
		TriggerType: pipeline.TriggerAPI,
		TriggerBy:   body.TriggerBy,
	}
	if err := validate.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	for field, v := range map[string]string{"tenant_id": req.TenantID, "pipeline_id": req.PipelineID} {
		if !definition.ValidIdentifier(v) {
			s.writeError(w, &ErrValidation{Field: field, Message: "must be a simple identifier"})
			return
		}
	}

	res, err := s.exec.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Status == pipeline.StatusAlreadyRunning {
		s.jsonResponse(w, http.StatusConflict, RunResponse{RunID: res.RunID, Status: string(res.Status)})
		return
	}
	if !body.Wait {
		s.jsonResponse(w, http.StatusAccepted, RunResponse{RunID: res.RunID, Status: string(res.Status)})
		return
	}

	run, err := s.exec.Wait(r.Context(), res.RunID)
	if err != nil {
		// Client went away; the run keeps going.
		s.logger.Info("trigger wait abandoned", zap.String("run_id", res.RunID), zap.Error(err))
		return
	}
	s.jsonResponse(w, http.StatusOK, RunResponse{
		RunID:        run.RunID,
		Status:       string(run.State),
		ErrorMessage: run.ErrorMessage,
	})
}

// handleGetRun returns a run with its steps.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if run, ok := s.exec.GetRun(runID); ok {
		s.jsonResponse(w, http.StatusOK, viewFromRun(run, true))
		return
	}

	record, id, err := s.storedRun(r, runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := viewFromRecord(record)
	steps, err := s.store.ListStepRuns(r.Context(), id, nil)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	view.Steps = stepViewsFromRecords(steps)
	s.jsonResponse(w, http.StatusOK, view)
}

// storedRun looks a run up in the metadata store.
func (s *Server) storedRun(r *http.Request, runID string) (*db.Run, uuid.UUID, error) {
	if s.store == nil {
		return nil, uuid.Nil, &ErrRunNotFound{RunID: runID}
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, uuid.Nil, &ErrValidation{Field: "run_id", Message: "invalid format"}
	}
	record, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if record == nil {
		return nil, uuid.Nil, &ErrRunNotFound{RunID: runID}
	}
	return record, id, nil
}

// handleListRuns lists recent runs, from the store when there is one.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := db.RunFilters{
		TenantID:   q.Get("tenant_id"),
		PipelineID: q.Get("pipeline_id"),
		State:      q.Get("state"),
		Limit:      defaultListLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filters.Limit = min(n, maxListLimit)
	}

	views := []RunView{}
	if s.store != nil {
		runs, err := s.store.ListRuns(r.Context(), filters)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
			return
		}
		for i := range runs {
			views = append(views, viewFromRecord(&runs[i]))
		}
	} else {
		for _, run := range s.exec.Runs() {
			if len(views) >= filters.Limit {
				break
			}
			if filters.TenantID != "" && run.TenantID != filters.TenantID {
				continue
			}
			if filters.PipelineID != "" && run.PipelineID != filters.PipelineID {
				continue
			}
			if filters.State != "" && string(run.State) != filters.State {
				continue
			}
			views = append(views, viewFromRun(run, false))
		}
	}
	s.jsonResponse(w, http.StatusOK, RunListResponse{Runs: views, Count: len(views)})
}

// handleCancelRun asks a running pipeline to stop.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if s.exec.Cancel(runID) {
		s.jsonResponse(w, http.StatusAccepted, RunResponse{RunID: runID, Status: "CANCELLING"})
		return
	}
	if run, ok := s.exec.GetRun(runID); ok {
		s.jsonResponse(w, http.StatusConflict, RunResponse{
			RunID:        runID,
			Status:       string(run.State),
			ErrorMessage: "run already finished",
		})
		return
	}
	s.writeError(w, &ErrRunNotFound{RunID: runID})
}
