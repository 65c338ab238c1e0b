// Package httpapi exposes the versioning, merge, and solve engines over a
// chi router (spec.md §6), grounded on the teacher's handlers/ conventions
// (plain json.Decoder/Encoder, chi.URLParam path params) generalized from
// per-user resource ownership to database/branch/commit addressing.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a domain error to its HTTP status (apperrors.DomainError
// carries its own mapping); anything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	if de, ok := err.(*apperrors.DomainError); ok {
		writeJSON(w, de.StatusCode(), map[string]any{
			"error":   string(de.ErrType),
			"message": de.Message,
			"details": de.Details,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":   string(apperrors.Internal),
		"message": err.Error(),
	})
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.BadRequest, err, "invalid request body")
	}
	return nil
}
