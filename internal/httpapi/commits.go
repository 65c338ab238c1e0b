package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ourstudio-se/oat-db/internal/versioning"
)

func (s *Server) handleListCommits(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	commits, err := s.store.Commits.List(r.Context(), database)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	hash := chi.URLParam(r, "hash")
	c, err := s.store.Commits.Get(r.Context(), database, hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleResolveCommitView(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	hash := chi.URLParam(r, "hash")
	view, err := s.vengine.ResolveView(r.Context(), database, versioning.Ref{CommitHash: hash})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type tagCommitRequest struct {
	Name        string                `json:"name"`
	Type        versioning.TagType    `json:"type"`
	Description string                `json:"description"`
}

func (s *Server) handleTagCommit(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var req tagCommitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tag := &versioning.CommitTag{
		CommitHash:  hash,
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		CreatedBy:   authorFromRequest(r),
	}
	if err := s.vengine.TagCommit(r.Context(), tag); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	tags, err := s.vengine.ListTags(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleUntag(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	name := chi.URLParam(r, "tag")
	if err := s.vengine.Untag(r.Context(), hash, name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
