package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"harvester/engine"
	"harvester/engine/config"
)

var (
	conf *config.Manager
	eng  *engine.SubmissionEngine
)

func SetConfig(c *config.Manager) {
	conf = c
}

func SetEngine(e *engine.SubmissionEngine) {
	eng = e
}

// AuthEnabled reports whether control-plane calls must carry a session token.
func AuthEnabled() bool {
	return conf.Get().AuthSettings.AuthEnabled
}

// WriteJSON writes a JSON response with the given status code.
// Errors are logged but not returned since there's nothing actionable
// the caller can do if the response write fails.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}
