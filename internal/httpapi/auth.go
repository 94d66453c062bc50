package httpapi

import (
	"net/http"
	"strings"
)

// APIKeySet is the immutable allow-list of ingest credentials, built once at
// process start
type APIKeySet map[string]struct{}

// NewAPIKeySet builds an allow-list from the configured keys
func NewAPIKeySet(keys []string) APIKeySet {
	set := make(APIKeySet, len(keys))
	for _, key := range keys {
		if key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}

// Authorize checks the request's bearer token against the allow-list
func (s APIKeySet) Authorize(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	_, ok = s[token]
	return ok
}

// Middleware rejects requests without a valid bearer token before they reach
// the handler
func (s APIKeySet) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Authorize(r) {
			writeJSON(w, http.StatusUnauthorized, Fail("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
