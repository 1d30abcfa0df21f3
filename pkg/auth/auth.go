// Package auth guards the two administrative surfaces: the dashboard API
// (bearer token) and the agent read endpoints (internal key header). Both
// are static shared secrets compared in constant time; session handling
// lives in the dashboard layer, not here.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// InternalKeyHeader carries the agent shared secret on plain-HTTP reads.
const InternalKeyHeader = "X-Internal-Api-Key"

// BearerMiddleware rejects requests whose Authorization header does not
// carry the configured admin token. An empty configured token disables the
// surface entirely (all requests rejected) rather than failing open.
func BearerMiddleware(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "admin api disabled", http.StatusUnauthorized)
				return
			}
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			presented := strings.TrimSpace(header[len("Bearer "):])
			if !Equal(presented, token) {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// InternalKeyMiddleware rejects requests whose internal key header does not
// match the agent shared secret.
func InternalKeyMiddleware(key string) func(http.Handler) http.Handler {
	key = strings.TrimSpace(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				http.Error(w, "internal api disabled", http.StatusUnauthorized)
				return
			}
			presented := strings.TrimSpace(r.Header.Get(InternalKeyHeader))
			if !Equal(presented, key) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
