// Package api implements the retroboard REST and event-stream API using chi.
package api

import (
	"net/http"

	"github.com/starford/retroboard/internal/identity"
)

// AuthMiddleware resolves the request principal with auth and stores it in
// the request context. Requests without a principal get 401.
func AuthMiddleware(auth identity.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, err := auth.Authenticate(r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), email)))
		})
	}
}
