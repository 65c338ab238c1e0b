package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ourstudio-se/oat-db/internal/realtime"
	"github.com/ourstudio-se/oat-db/internal/resolver"
	"github.com/ourstudio-se/oat-db/internal/validator"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// handleGetWorkingCommit returns the draft plus every instance's resolved
// relationship selections (spec.md §6 working-commit GET); the /raw
// sibling skips resolution.
func (s *Server) handleGetWorkingCommit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "wc")
	wc, err := s.store.WorkingCommits.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := wc.View()
	res := resolver.New(view)
	resolved := map[string]map[string][]string{}
	for instID, inst := range view.Instances {
		class, ok := view.Schema.ClassByID(inst.ClassID)
		if !ok {
			continue
		}
		for _, rel := range class.Relationships {
			ids, err := res.Resolve(inst, rel.Name)
			if err != nil {
				continue
			}
			if resolved[instID] == nil {
				resolved[instID] = map[string][]string{}
			}
			resolved[instID][rel.Name] = ids
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"working_commit":         wc,
		"resolved_relationships": resolved,
	})
}

func (s *Server) handleGetWorkingCommitRaw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "wc")
	wc, err := s.store.WorkingCommits.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

func (s *Server) handleStageChange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "wc")
	var req struct {
		Delta versioning.Delta `json:"delta"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	wc, err := s.vengine.StageChange(r.Context(), id, req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

type commitRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleCommitWorkingCommit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "wc")
	var req commitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	wcBefore, err := s.store.WorkingCommits.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.vengine.Commit(r.Context(), id, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publish(realtime.Event{
		Type:       realtime.EventCommit,
		Database:   wcBefore.Database,
		Branch:     wcBefore.Branch,
		CommitHash: c.Hash,
	})
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleAbandonWorkingCommit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "wc")
	if err := s.vengine.Abandon(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateWorkingCommit runs the validator over a working commit's
// draft without committing, surfacing findings for an editor UI.
func (s *Server) handleValidateWorkingCommit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "wc")
	wc, err := s.store.WorkingCommits.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	result := validator.New(wc.View()).Validate()
	writeJSON(w, http.StatusOK, result)
}
