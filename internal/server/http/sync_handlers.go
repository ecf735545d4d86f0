package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/repository"
)

const (
	defaultRunListSize = 20
	maxRunListSize     = 200
)

// startSync handles POST /sync.
// It selects the papers, starts a background run and returns its id
// without waiting for the run to finish.
func (s *Server) startSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req syncRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	sel, err := req.selection()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	papers, err := repository.SelectForSync(ctx, s.deps.Papers, sel)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(papers) == 0 {
		writeError(w, http.StatusBadRequest, "no papers match the selection")
		return
	}

	runID, err := s.deps.Runner.StartWith(ctx, papers, librarysync.Overrides{DownloadPDFs: req.DownloadPDFs})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("run_id", runID.String()).
		Int("papers", len(papers)).
		Msg("sync run started")

	writeJSON(w, http.StatusAccepted, startSyncResponse{
		RunID:   runID.String(),
		Status:  "running",
		Total:   len(papers),
		Message: "sync run started",
	})
}

// getSyncRun handles GET /sync/{runID}. Runs still tracked by this process
// answer from memory; older ones come from the run history table.
func (s *Server) getSyncRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	if st, found := s.deps.Runner.Get(runID); found {
		writeJSON(w, http.StatusOK, runStateToResponse(st))
		return
	}

	if s.deps.Runs == nil {
		writeError(w, http.StatusNotFound, "sync run not found")
		return
	}
	run, err := s.deps.Runs.GetSyncRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainRunToResponse(run))
}

// listSyncRuns handles GET /sync.
func (s *Server) listSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = min(parsed, maxRunListSize)
		}
	}

	resp := listSyncRunsResponse{Runs: []syncRunResponse{}}
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	runs, err := s.deps.Runs.ListSyncRuns(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, run := range runs {
		if st, found := s.deps.Runner.Get(run.ID); found {
			resp.Runs = append(resp.Runs, runStateToResponse(st))
			continue
		}
		resp.Runs = append(resp.Runs, domainRunToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

// cancelSyncRun handles DELETE /sync/{runID}.
// Cancellation is asynchronous: papers already in flight finish their
// current step and the rest are marked cancelled.
func (s *Server) cancelSyncRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	if s.deps.Runner.Cancel(runID) {
		writeJSON(w, http.StatusAccepted, cancelSyncResponse{
			RunID:   runID.String(),
			Success: true,
			Message: "cancellation requested",
		})
		return
	}

	if st, found := s.deps.Runner.Get(runID); found && st.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "sync run is already in terminal state")
		return
	}
	if s.deps.Runs != nil {
		run, err := s.deps.Runs.GetSyncRun(r.Context(), runID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if run.Status.IsTerminal() {
			writeError(w, http.StatusConflict, "sync run is already in terminal state")
			return
		}
		writeError(w, http.StatusConflict, "sync run is owned by another process")
		return
	}
	writeError(w, http.StatusNotFound, "sync run not found")
}
