package middleware

import (
	"encoding/json"
	"net/http"

	"harvester/www/api"
)

// Authentication gates control-plane routes behind a valid session token.
// When auth is disabled in the config, requests pass through unauthenticated.
func Authentication(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !api.AuthEnabled() {
			next(w, r)
			return
		}

		if err := api.Authenticate(r); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			d, _ := json.Marshal(map[string]any{"error": "unauthorized"})
			w.Write(d)
			return
		}

		next(w, r)
	}
}
