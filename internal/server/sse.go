package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/pipeline-orchestrator/internal/metadata"
)

const sseKeepAlive = 15 * time.Second

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteComment sends a comment line, used as a keep-alive.
func (s *SSEWriter) WriteComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// WriteComplete sends a completion event
func (s *SSEWriter) WriteComplete(runID, state string) {
	s.WriteEvent("complete", map[string]string{ //nolint:errcheck
		"run_id": runID,
		"state":  state,
	})
}

// handleRunEvents streams a run's transitions as "transition" events and ends
// with a "complete" event carrying the terminal state. A finished run is
// replayed from the metadata store.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	if _, ok := s.exec.GetRun(runID); !ok {
		s.replayEvents(w, r, runID)
		return
	}
	if s.events == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event streaming is not enabled")
		return
	}

	// Subscribe before reading the state so the final transition cannot slip
	// between the two.
	ch, unsubscribe := s.events.Subscribe(runID)
	defer unsubscribe()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	run, _ := s.exec.GetRun(runID)
	if run != nil && run.State.Terminal() {
		sse.WriteComplete(runID, string(run.State))
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
		case rec, ok := <-ch:
			if !ok {
				// Closed after the final record, which a slow reader may have lost.
				if run, found := s.exec.GetRun(runID); found && run.State.Terminal() {
					sse.WriteComplete(runID, string(run.State))
				}
				return
			}
			if err := sse.WriteEvent("transition", rec); err != nil {
				return
			}
			if rec.Final() {
				sse.WriteComplete(runID, rec.NewState)
				return
			}
		}
	}
}

func (s *Server) replayEvents(w http.ResponseWriter, r *http.Request, runID string) {
	record, id, err := s.storedRun(r, runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	transitions, err := s.store.ListTransitions(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, t := range transitions {
		rec := metadata.TransitionRecord{
			RunID:        t.RunID.String(),
			PipelineID:   t.PipelineID,
			TenantID:     t.TenantID,
			StepID:       t.StepID,
			OldState:     t.OldState,
			NewState:     t.NewState,
			Timestamp:    t.OccurredAt,
			ErrorMessage: t.ErrorMessage,
			ErrorKind:    t.ErrorKind,
			Attempt:      t.Attempt,
			TriggerType:  t.TriggerType,
			TriggerBy:    t.TriggerBy,
			DurationMs:   t.DurationMs,
		}
		if err := sse.WriteEvent("transition", rec); err != nil {
			return
		}
	}
	sse.WriteComplete(runID, record.State)
}
