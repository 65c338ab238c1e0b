package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// handleEvents upgrades to a WebSocket subscription of a database's commit,
// merge, rebase, and artifact notifications (spec.md §6.4).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "realtime notifications are disabled"})
		return
	}
	database := chi.URLParam(r, "database")
	if err := s.hub.ServeWS(w, r, database); err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
	}
}
