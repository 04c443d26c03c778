package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// CORS answers cross-origin requests from the allowed origins. Preflight
// requests get 200 for an allowed origin and 403 otherwise. With
// allowLocalhost, any http://localhost:<port> or http://127.0.0.1:<port>
// origin is accepted as well.
func CORS(allowedOrigins []string, allowLocalhost bool) func(http.Handler) http.Handler {
	allowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		if slices.Contains(allowedOrigins, origin) {
			return true
		}
		return allowLocalhost && (strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			ok := allowed(origin)

			w.Header().Add("Vary", "Origin")
			if ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if !ok {
					writeError(w, http.StatusForbidden, "origin not allowed")
					return
				}
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
