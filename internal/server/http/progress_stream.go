package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/paper-sync-service/internal/librarysync"
)

const (
	// ssePollInterval is how often the runner is asked for authoritative state.
	ssePollInterval = 2 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// sseEvent represents an event sent via SSE.
type sseEvent struct {
	EventType string                `json:"event_type"`
	RunID     string                `json:"run_id"`
	Status    string                `json:"status"`
	Progress  *librarysync.Progress `json:"progress,omitempty"`
	Summary   *syncRunResponse      `json:"summary,omitempty"`
	Message   string                `json:"message"`
	Timestamp time.Time             `json:"timestamp"`
}

// streamProgress handles GET /sync/{runID}/stream (SSE).
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	state, found := s.deps.Runner.Get(runID)
	var stored *syncRunResponse
	if !found {
		if s.deps.Runs == nil {
			writeError(w, http.StatusNotFound, "sync run not found")
			return
		}
		run, err := s.deps.Runs.GetSyncRun(r.Context(), runID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := domainRunToResponse(run)
		stored = &resp
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// A run this process does not track only has its stored record.
	if stored != nil {
		sendSSEEvent(w, flusher, sseEvent{
			EventType: "completed",
			RunID:     runID.String(),
			Status:    stored.Status,
			Summary:   stored,
			Message:   "sync run is not active in this process",
			Timestamp: time.Now(),
		})
		return
	}

	if state.Status.IsTerminal() {
		sendSSEEvent(w, flusher, finalEvent(state))
		return
	}

	updates, unsubscribe, active := s.deps.Runner.Subscribe(runID)
	defer unsubscribe()
	if !active {
		// Finished between Get and Subscribe.
		s.sendFinal(w, flusher, runID)
		return
	}

	progress := state.Progress
	sendSSEEvent(w, flusher, sseEvent{
		EventType: "stream_started",
		RunID:     runID.String(),
		Status:    string(state.Status),
		Progress:  &progress,
		Message:   "progress stream started",
		Timestamp: time.Now(),
	})

	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "timeout",
				RunID:     runID.String(),
				Message:   "stream max duration exceeded",
				Timestamp: time.Now(),
			})
			return

		case p, open := <-updates:
			if !open {
				s.sendFinal(w, flusher, runID)
				return
			}
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "progress",
				RunID:     runID.String(),
				Status:    "running",
				Progress:  &p,
				Message:   p.Description,
				Timestamp: time.Now(),
			})

		case <-ticker.C:
			// Subscribers drop updates when full; re-read the runner so a
			// slow client still converges on the current count.
			current, found := s.deps.Runner.Get(runID)
			if !found || current.Status.IsTerminal() {
				s.sendFinal(w, flusher, runID)
				return
			}
			p := current.Progress
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "progress_update",
				RunID:     runID.String(),
				Status:    string(current.Status),
				Progress:  &p,
				Message:   "status: " + string(current.Status),
				Timestamp: time.Now(),
			})
		}
	}
}

// sendFinal writes the terminal event for a run that just left the active set.
func (s *Server) sendFinal(w http.ResponseWriter, flusher http.Flusher, runID uuid.UUID) {
	state, found := s.deps.Runner.Get(runID)
	if !found {
		sendSSEEvent(w, flusher, sseEvent{
			EventType: "error",
			RunID:     runID.String(),
			Message:   "sync run state is no longer available",
			Timestamp: time.Now(),
		})
		return
	}
	sendSSEEvent(w, flusher, finalEvent(state))
}

func finalEvent(state librarysync.RunState) sseEvent {
	summary := runStateToResponse(state)
	msg := "sync run finished with status: " + string(state.Status)
	if state.Error != "" {
		msg += ": " + state.Error
	}
	return sseEvent{
		EventType: "completed",
		RunID:     state.RunID.String(),
		Status:    string(state.Status),
		Summary:   &summary,
		Message:   msg,
		Timestamp: time.Now(),
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}
