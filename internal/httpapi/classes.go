package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// branchOrDefault resolves the branch a schema/instance request addresses:
// the {branch} path param when the route is branch-scoped, else the
// database's default branch (spec.md §6 — /schema/classes and /instances
// "delegate to the default branch").
func (s *Server) branchOrDefault(r *http.Request) (string, string, error) {
	database := chi.URLParam(r, "database")
	if branch := chi.URLParam(r, "branch"); branch != "" {
		return database, branch, nil
	}
	db, err := s.store.Databases.Get(r.Context(), database)
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.DatabaseNotFound, err, "database not found")
	}
	return database, db.DefaultBranchName, nil
}

// readView returns the view schema/instance reads are served from: the
// branch's active working-commit draft when one exists, else the committed
// branch view. Edits staged through these endpoints are immediately
// visible to subsequent reads, and a commit through the working-commit
// endpoint publishes them.
func (s *Server) readView(r *http.Request) (*model.View, error) {
	database, branch, err := s.branchOrDefault(r)
	if err != nil {
		return nil, err
	}
	if wc, _ := s.store.WorkingCommits.GetActive(r.Context(), database, branch); wc != nil {
		return wc.View(), nil
	}
	return s.vengine.ResolveView(r.Context(), database, versioning.Ref{Branch: branch})
}

// stageDelta opens (or reuses) the branch's active working commit and
// stages one delta into it, authored by the request identity.
func (s *Server) stageDelta(r *http.Request, delta versioning.Delta) (*versioning.WorkingCommit, error) {
	database, branch, err := s.branchOrDefault(r)
	if err != nil {
		return nil, err
	}
	wc, err := s.vengine.OpenWorkingCommit(r.Context(), database, branch, authorFromRequest(r))
	if err != nil {
		return nil, err
	}
	return s.vengine.StageChange(r.Context(), wc.ID, delta)
}

// classRoutes is mounted both under /databases/{database}/schema/classes
// (default branch) and the branch-scoped sibling (spec.md §6).
func (s *Server) classRoutes(cr chi.Router) {
	cr.Get("/", s.handleListClasses)
	cr.Post("/", s.handleCreateClass)
	cr.Get("/{class}", s.handleGetClass)
	cr.Put("/{class}", s.handleReplaceClass)
	cr.Patch("/{class}", s.handlePatchClass)
	cr.Delete("/{class}", s.handleDeleteClass)
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	view, err := s.readView(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view.Schema.Classes)
}

func (s *Server) handleGetClass(w http.ResponseWriter, r *http.Request) {
	view, err := s.readView(r)
	if err != nil {
		writeError(w, err)
		return
	}
	class, ok := view.Schema.ClassByID(chi.URLParam(r, "class"))
	if !ok {
		writeError(w, apperrors.Newf(apperrors.ClassNotFound, "class %q not found", chi.URLParam(r, "class")))
		return
	}
	writeJSON(w, http.StatusOK, class)
}

func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var class model.ClassDefinition
	if err := decodeBody(r, &class); err != nil {
		writeError(w, err)
		return
	}
	if class.ID == "" || class.Name == "" {
		writeError(w, apperrors.New(apperrors.BadRequest, "class id and name are required"))
		return
	}
	identity := identityFromRequest(r)
	class.CreatedBy = identity.ID
	class.UpdatedBy = identity.ID

	wc, err := s.stageDelta(r, versioning.Delta{ReplaceClass: &class})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"class": class, "working_commit_id": wc.ID})
}

func (s *Server) handleReplaceClass(w http.ResponseWriter, r *http.Request) {
	var class model.ClassDefinition
	if err := decodeBody(r, &class); err != nil {
		writeError(w, err)
		return
	}
	class.ID = chi.URLParam(r, "class")
	class.UpdatedBy = identityFromRequest(r).ID

	wc, err := s.stageDelta(r, versioning.Delta{ReplaceClass: &class})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"class": class, "working_commit_id": wc.ID})
}

func (s *Server) handlePatchClass(w http.ResponseWriter, r *http.Request) {
	var patch versioning.ClassPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	patch.ClassID = chi.URLParam(r, "class")

	wc, err := s.stageDelta(r, versioning.Delta{PatchClass: &patch})
	if err != nil {
		writeError(w, err)
		return
	}
	class, _ := wc.View().Schema.ClassByID(patch.ClassID)
	writeJSON(w, http.StatusOK, map[string]any{"class": class, "working_commit_id": wc.ID})
}

func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	if _, err := s.stageDelta(r, versioning.Delta{RemoveClass: chi.URLParam(r, "class")}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
