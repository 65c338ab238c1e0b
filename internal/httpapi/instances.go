package httpapi

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/validator"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// instanceRoutes is mounted both under /databases/{database}/instances
// (default branch) and the branch-scoped sibling (spec.md §6).
func (s *Server) instanceRoutes(ir chi.Router) {
	ir.Get("/", s.handleListInstances)
	ir.Post("/", s.handleCreateInstance)
	ir.Get("/{instance}", s.handleGetInstance)
	ir.Patch("/{instance}", s.handlePatchInstance)
	ir.Delete("/{instance}", s.handleDeleteInstance)
	ir.Get("/{instance}/validate", s.handleValidateInstance)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	view, err := s.readView(r)
	if err != nil {
		writeError(w, err)
		return
	}
	classFilter := r.URL.Query().Get("class")
	out := make([]*model.Instance, 0, len(view.Instances))
	for _, inst := range view.Instances {
		if classFilter != "" && inst.ClassID != classFilter {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	view, err := s.readView(r)
	if err != nil {
		writeError(w, err)
		return
	}
	inst, ok := view.Instance(chi.URLParam(r, "instance"))
	if !ok {
		writeError(w, apperrors.Newf(apperrors.NotFound, "instance %q not found", chi.URLParam(r, "instance")))
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var inst model.Instance
	if err := decodeBody(r, &inst); err != nil {
		writeError(w, err)
		return
	}
	if inst.ID == "" || inst.ClassID == "" {
		writeError(w, apperrors.New(apperrors.BadRequest, "instance id and class_id are required"))
		return
	}
	identity := identityFromRequest(r)
	inst.CreatedBy = identity.ID
	inst.UpdatedBy = identity.ID

	wc, err := s.stageDelta(r, versioning.Delta{AddInstance: &inst})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"instance": inst, "working_commit_id": wc.ID})
}

func (s *Server) handlePatchInstance(w http.ResponseWriter, r *http.Request) {
	var patch versioning.InstancePatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	patch.InstanceID = chi.URLParam(r, "instance")

	wc, err := s.stageDelta(r, versioning.Delta{PatchInstance: &patch})
	if err != nil {
		writeError(w, err)
		return
	}
	inst, _ := wc.View().Instance(patch.InstanceID)
	writeJSON(w, http.StatusOK, map[string]any{"instance": inst, "working_commit_id": wc.ID})
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	if _, err := s.stageDelta(r, versioning.Delta{RemoveInstance: chi.URLParam(r, "instance")}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateInstance validates the whole view but reports only the
// findings anchored to one instance (spec.md §6 "/validate at ...
// instance ... scopes").
func (s *Server) handleValidateInstance(w http.ResponseWriter, r *http.Request) {
	view, err := s.readView(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "instance")
	if _, ok := view.Instance(id); !ok {
		writeError(w, apperrors.Newf(apperrors.NotFound, "instance %q not found", id))
		return
	}
	full := validator.New(view).Validate()
	scoped := validator.Result{Errors: []validator.Finding{}, Warnings: []validator.Finding{}}
	for _, f := range full.Errors {
		if f.InstanceID == id {
			scoped.Errors = append(scoped.Errors, f)
		}
	}
	for _, f := range full.Warnings {
		if f.InstanceID == id {
			scoped.Warnings = append(scoped.Warnings, f)
		}
	}
	writeJSON(w, http.StatusOK, scoped)
}

// handleValidateView validates the branch (or default-branch) view
// (spec.md §6 "/validate at database, branch ... scopes").
func (s *Server) handleValidateView(w http.ResponseWriter, r *http.Request) {
	view, err := s.readView(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validator.New(view).Validate())
}
