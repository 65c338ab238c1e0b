package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ourstudio-se/oat-db/internal/versioning"
)

type createBranchRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent"`
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	var req createBranchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b, err := s.vengine.CreateBranch(r.Context(), database, req.Name, req.Parent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	branches, err := s.store.Branches.List(r.Context(), database)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	branch := chi.URLParam(r, "branch")
	b, err := s.store.Branches.Get(r.Context(), database, branch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleResolveBranchView(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	branch := chi.URLParam(r, "branch")
	view, err := s.vengine.ResolveView(r.Context(), database, versioning.Ref{Branch: branch})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleOpenWorkingCommit(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	branch := chi.URLParam(r, "branch")
	author := authorFromRequest(r)
	wc, err := s.vengine.OpenWorkingCommit(r.Context(), database, branch, author)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wc)
}
