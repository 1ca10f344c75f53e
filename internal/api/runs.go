package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// RunsResponse is the body of GET /runs.
type RunsResponse struct {
	Runs  []automation.Run `json:"runs"`
	Count int              `json:"count"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeUnavailable(w, "run log is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []automation.Run{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// handleGetRun returns a run with its per-action results.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeUnavailable(w, "run log is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		writeAutomationError(w, err)
		return
	}

	results, err := s.runs.ListResults(r.Context(), id)
	if err != nil {
		s.logger.Error("listing run results", "run_id", id, "error", err)
		writeInternalError(w, "failed to list run results")
		return
	}
	run.Results = results

	writeJSON(w, http.StatusOK, run)
}

// ActiveRunsResponse is the body of GET /runs/active.
type ActiveRunsResponse struct {
	RunIDs []string `json:"run_ids"`
}

func (s *Server) handleActiveRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ActiveRunsResponse{RunIDs: s.executor.ActiveRuns()})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.executor.Cancel(id) {
		writeError(w, http.StatusConflict, ErrCodeConflict, "run "+id+" is not active")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}
