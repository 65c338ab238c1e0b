package httpapi

import (
	"context"
	"net/http"
)

// AuditIdentity is the caller identity carried on every request, read from
// the X-User-Id / X-User-Email / X-User-Name headers (spec.md §6 "Request
// audit headers"). Class and instance mutations stamp their audit fields
// from it.
type AuditIdentity struct {
	ID    string
	Email string
	Name  string
}

const identityContextKey contextKey = "oat-db-identity"

// identityFromRequest returns the identity attached by requireIdentity,
// or a zero identity when the request carried no headers (reads).
func identityFromRequest(r *http.Request) AuditIdentity {
	if id, ok := r.Context().Value(identityContextKey).(AuditIdentity); ok {
		return id
	}
	return AuditIdentity{}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// requireIdentity attaches the X-User-* audit identity to the request
// context and rejects mutating requests that carry no X-User-Id with 401
// (spec.md §6). A bearer-token author established by requireAuth counts as
// an identity, so JWT-authenticated callers don't need the header.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := AuditIdentity{
			ID:    r.Header.Get("X-User-Id"),
			Email: r.Header.Get("X-User-Email"),
			Name:  r.Header.Get("X-User-Name"),
		}
		if a, ok := r.Context().Value(authorContextKey).(string); ok && a != "" {
			if id.ID != "" && id.ID != a {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":   "bad_request",
					"message": "X-User-Id disagrees with the authenticated bearer identity",
				})
				return
			}
			id.ID = a
		}
		if isMutation(r.Method) && id.ID == "" {
			writeUnauthorized(w, "X-User-Id header is required for mutations")
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
