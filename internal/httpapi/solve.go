package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/realtime"
	"github.com/ourstudio-se/oat-db/internal/solve"
)

type solveRequest struct {
	CommitHash string          `json:"commit_hash"`
	Policies   *solve.Policies `json:"policies"`
	Force      bool            `json:"force"`
}

// defaultPolicies derives the solve policy defaults from configuration,
// falling back to the package defaults for any field the operator left
// unset. A request body's explicit policies always win.
func (s *Server) defaultPolicies() solve.Policies {
	p := solve.DefaultPolicies()
	if s.cfg == nil {
		return p
	}
	sc := s.cfg.Solve
	if sc.CrossBranchPolicy != "" {
		p.CrossBranch = solve.CrossBranchPolicy(sc.CrossBranchPolicy)
	}
	if sc.MissingInstancePolicy != "" {
		p.MissingInstance = solve.MissingInstancePolicy(sc.MissingInstancePolicy)
	}
	if sc.EmptySelectionPolicy != "" {
		p.EmptySelection = solve.EmptySelectionPolicy(sc.EmptySelectionPolicy)
	}
	if sc.MaxSelectionSize > 0 {
		p.MaxSelectionSize = sc.MaxSelectionSize
	}
	return p
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	branch := chi.URLParam(r, "branch")
	var req solveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	policies := s.defaultPolicies()
	if req.Policies != nil {
		policies = *req.Policies
	}
	rc := solve.ResolutionContext{
		Database: database,
		Branch:   branch,
		Commit:   req.CommitHash,
		Policies: policies,
		Force:    req.Force,
	}
	artifact, err := s.pipeline.Solve(r.Context(), rc)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publish(realtime.Event{
		Type:       realtime.EventArtifact,
		Database:   database,
		Branch:     branch,
		ArtifactID: artifact.ID,
	})
	writeJSON(w, http.StatusCreated, artifact)
}

// handleSolveContext is the ref-addressed solve: the body names the
// database and a branch or commit instead of taking them from the path.
func (s *Server) handleSolveContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Database string          `json:"database"`
		Branch   string          `json:"branch"`
		Commit   string          `json:"commit_hash"`
		Policies *solve.Policies `json:"policies"`
		Force    bool            `json:"force"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Database == "" || (req.Branch == "" && req.Commit == "") {
		writeError(w, apperrors.New(apperrors.BadRequest, "database and a branch or commit_hash are required"))
		return
	}
	policies := s.defaultPolicies()
	if req.Policies != nil {
		policies = *req.Policies
	}
	artifact, err := s.pipeline.Solve(r.Context(), solve.ResolutionContext{
		Database: req.Database,
		Branch:   req.Branch,
		Commit:   req.Commit,
		Policies: policies,
		Force:    req.Force,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.publish(realtime.Event{
		Type:       realtime.EventArtifact,
		Database:   req.Database,
		Branch:     req.Branch,
		ArtifactID: artifact.ID,
	})
	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	artifact, err := s.artifacts.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	database := r.URL.Query().Get("database")
	if database == "" {
		writeError(w, apperrors.New(apperrors.BadRequest, "database query parameter is required"))
		return
	}
	artifacts, err := s.artifacts.List(r.Context(), database)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// artifactSummary is the lightweight projection of an artifact: provenance
// and statistics without the frozen schema and property snapshots.
type artifactSummary struct {
	ID                string                  `json:"id"`
	ResolutionContext solve.ResolutionContext `json:"resolution_context"`
	InstanceCount     int                     `json:"instance_count"`
	ClassCount        int                     `json:"class_count"`
	SelectorCount     int                     `json:"selector_count"`
	Timings           []solve.PhaseTiming     `json:"timings"`
	CreatedAt         time.Time               `json:"created_at"`
}

func (s *Server) handleArtifactSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	artifact, err := s.artifacts.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifactSummary{
		ID:                artifact.ID,
		ResolutionContext: artifact.ResolutionContext,
		InstanceCount:     artifact.Metadata.InstanceCount,
		ClassCount:        artifact.Metadata.ClassCount,
		SelectorCount:     len(artifact.SelectorSnapshots),
		Timings:           artifact.Metadata.Timings,
		CreatedAt:         artifact.CreatedAt,
	})
}
