package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// SourceAPI is the Run.Source recorded for API-submitted runs.
const SourceAPI = "api"

// ExecuteRequest is the body of POST /sequences/execute.
type ExecuteRequest struct {
	Name          string                  `json:"name,omitempty"`
	RunID         string                  `json:"run_id,omitempty"`
	StopOnFailure *bool                   `json:"stop_on_failure,omitempty"`
	Async         bool                    `json:"async,omitempty"`
	Actions       []automation.Definition `json:"actions"`
}

// ExecuteResponse is returned by a synchronous execute. Error is set when
// the run was cancelled or aborted.
type ExecuteResponse struct {
	Run     *automation.Run `json:"run"`
	Summary struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Total     int `json:"total"`
	} `json:"summary"`
	Error string `json:"error,omitempty"`
}

// AcceptedResponse is returned by an asynchronous execute.
type AcceptedResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// handleExecuteSequence builds every action up front, so an invalid
// sequence is rejected with 400 before anything touches the desktop.
func (s *Server) handleExecuteSequence(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Actions) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "actions must not be empty")
		return
	}

	actions, err := s.defaults.BuildAll(req.Actions)
	if err != nil {
		writeAutomationError(w, err)
		return
	}

	opts := automation.RunOptions{
		StopOnFailure: s.stopOnFailure,
		Source:        SourceAPI,
		RunID:         req.RunID,
	}
	if req.StopOnFailure != nil {
		opts.StopOnFailure = *req.StopOnFailure
	}

	if req.Async {
		start, runID, err := s.executor.Start(s.ctx, actions, opts)
		if err != nil {
			writeAutomationError(w, err)
			return
		}
		s.runWG.Add(1)
		go func() {
			defer s.runWG.Done()
			if _, _, err := start(); err != nil {
				s.logger.Warn("async run ended with error", "run_id", runID, "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, AcceptedResponse{RunID: runID, Status: "accepted"})
		return
	}

	run, _, err := s.executor.ExecuteRun(r.Context(), actions, opts)
	if run == nil {
		writeAutomationError(w, err)
		return
	}

	var resp ExecuteResponse
	resp.Run = run
	resp.Summary.Succeeded = run.Succeeded
	resp.Summary.Failed = run.Failed
	resp.Summary.Total = run.Attempted()
	if err != nil {
		resp.Error = err.Error()
	}

	status := http.StatusOK
	if err != nil && !errors.Is(err, automation.ErrCancelled) {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}
