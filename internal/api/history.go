package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Results []automation.ResultRecord `json:"results"`
	Count   int                       `json:"count"`
	Total   int                       `json:"total"`
	Limit   int                       `json:"limit"`
}

// handleListHistory serves ?last=n (most recent n) and ?failed=true.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	history := s.executor.History()

	last := 0
	if v := r.URL.Query().Get("last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "last must be a positive integer")
			return
		}
		last = n
	}

	var results []automation.ActionResult
	switch {
	case r.URL.Query().Get("failed") == "true":
		results = history.Failed(last)
	case last > 0:
		results = history.Last(last)
	default:
		results = history.All()
	}

	records := make([]automation.ResultRecord, len(results))
	for i, res := range results {
		records[i] = res.Record()
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Results: records,
		Count:   len(records),
		Total:   history.Len(),
		Limit:   history.Limit(),
	})
}

// SummaryResponse is the body of GET /history/summary.
type SummaryResponse struct {
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Total           int   `json:"total"`
	TotalDurationMS int64 `json:"total_duration_ms"`
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, _ *http.Request) {
	sum := s.executor.History().Summary()
	writeJSON(w, http.StatusOK, SummaryResponse{
		Succeeded:       sum.Succeeded,
		Failed:          sum.Failed,
		Total:           sum.Total(),
		TotalDurationMS: sum.TotalDuration.Milliseconds(),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.executor.History().Clear()
	s.logger.Info("execution history cleared")
	w.WriteHeader(http.StatusNoContent)
}
