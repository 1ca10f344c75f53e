package api

import (
	"net/http"

	"github.com/nerrad567/deskpilot/internal/automation"
)

func (s *Server) handleListWatchers(w http.ResponseWriter, _ *http.Request) {
	statuses := []automation.WatcherStatus{}
	if s.watchers != nil {
		statuses = s.watchers.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchers": statuses})
}
