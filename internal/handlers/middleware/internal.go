package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/liderhq/payhub/internal/handlers/render"
)

// InternalTokenHeader carries the shared secret for service-to-service calls
const InternalTokenHeader = "X-Internal-Token"

// InternalAuthMiddleware guards endpoints reachable by trusted services only
func InternalAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				render.ServiceError(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
