package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// contextKey is unexported so no other package can collide with our keys.
type contextKey string

const workspaceIDKey contextKey = "workspaceID"

// RequireWorkspace returns middleware that admits a request only if it
// carries a valid token issued for the workspace named by the {param} URL
// parameter.
//
//	r.Route("/api/workspaces/{id}", func(r chi.Router) {
//	    r.Use(auth.RequireWorkspace(tokens, "id"))
//	    ...
//	})
func RequireWorkspace(tokens *TokenService, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				deny(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			workspaceID, err := tokens.Validate(raw)
			if err != nil {
				deny(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			if want := chi.URLParam(r, param); want != "" && want != workspaceID {
				deny(w, http.StatusForbidden, "forbidden", "token was issued for another workspace")
				return
			}

			ctx := context.WithValue(r.Context(), workspaceIDKey, workspaceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WorkspaceIDFromContext returns the authenticated workspace ID.
func WorkspaceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(workspaceIDKey).(string)
	return id, ok && id != ""
}

// tokenFromRequest checks, in order, the Authorization header, the "token"
// cookie and the "token" query parameter.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie("token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
