package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ourstudio-se/oat-db/internal/realtime"
)

type mergeRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	target := chi.URLParam(r, "branch")
	source := chi.URLParam(r, "source")
	var req mergeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.mergeEngine.Merge(r.Context(), database, source, target, authorFromRequest(r), req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Commit != nil {
		s.publish(realtime.Event{
			Type:       realtime.EventMerge,
			Database:   database,
			Branch:     target,
			CommitHash: result.Commit.Hash,
		})
	}
	status := http.StatusOK
	if len(result.Conflicts) > 0 {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) handleValidateMerge(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	target := chi.URLParam(r, "branch")
	source := chi.URLParam(r, "source")
	result, err := s.mergeEngine.ValidateMerge(r.Context(), database, source, target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRebase(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	branch := chi.URLParam(r, "branch")
	upstream := chi.URLParam(r, "upstream")
	var req mergeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.mergeEngine.Rebase(r.Context(), database, branch, upstream, authorFromRequest(r), req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Commit != nil {
		s.publish(realtime.Event{
			Type:       realtime.EventRebase,
			Database:   database,
			Branch:     branch,
			CommitHash: result.Commit.Hash,
		})
	}
	status := http.StatusOK
	if len(result.Conflicts) > 0 {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) handleValidateRebase(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	branch := chi.URLParam(r, "branch")
	upstream := chi.URLParam(r, "upstream")
	result, err := s.mergeEngine.ValidateRebase(r.Context(), database, branch, upstream)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
