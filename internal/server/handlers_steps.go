package server

import (
	"net/http"
)

// RunStepsListResponse represents the list of all steps for a run
type RunStepsListResponse struct {
	RunID   string          `json:"run_id"`
	State   string          `json:"state"`
	Steps   []StepView      `json:"steps"`
	Summary RunStepsSummary `json:"summary"`
}

// RunStepsSummary represents a summary of step states
type RunStepsSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

func summarize(steps []StepView) RunStepsSummary {
	var sum RunStepsSummary
	for _, s := range steps {
		sum.Total++
		switch s.State {
		case "COMPLETED":
			sum.Completed++
		case "RUNNING", "RETRYING":
			sum.InProgress++
		case "PENDING":
			sum.Pending++
		case "FAILED":
			sum.Failed++
		case "SKIPPED":
			sum.Skipped++
		}
	}
	return sum
}

func filterSteps(steps []StepView, state string) []StepView {
	if state == "" {
		return steps
	}
	out := make([]StepView, 0, len(steps))
	for _, s := range steps {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out
}

// handleListRunSteps lists the steps of a run, optionally filtered by ?state=.
func (s *Server) handleListRunSteps(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	state := r.URL.Query().Get("state")

	if run, ok := s.exec.GetRun(runID); ok {
		views := filterSteps(stepViews(run.Steps), state)
		s.jsonResponse(w, http.StatusOK, RunStepsListResponse{
			RunID:   runID,
			State:   string(run.State),
			Steps:   views,
			Summary: summarize(views),
		})
		return
	}

	record, id, err := s.storedRun(r, runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var filter *string
	if state != "" {
		filter = &state
	}
	records, err := s.store.ListStepRuns(r.Context(), id, filter)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	views := stepViewsFromRecords(records)
	s.jsonResponse(w, http.StatusOK, RunStepsListResponse{
		RunID:   runID,
		State:   record.State,
		Steps:   views,
		Summary: summarize(views),
	})
}
