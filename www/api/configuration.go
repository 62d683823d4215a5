package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"harvester/engine/config"
)

type PostConfigRequest struct {
	Config config.ConfigSettings `json:"config"`
}

// GetConfig returns the current configuration. Secrets carry json:"-" tags
// and never leave the process.
func GetConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, conf.Get())
}

// PostConfig hot-replaces the live configuration. The swap is atomic: an
// in-flight scheduler cycle finishes against the old snapshot and the next
// one reads the new config.
func PostConfig(w http.ResponseWriter, r *http.Request) {
	var payload PostConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Error("failed to parse config payload", "error", err)
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid config payload: " + err.Error()})
		return
	}

	// the API password only comes from the config file, so pushed configs
	// inherit the running one
	if payload.Config.AuthSettings.Password == "" {
		payload.Config.AuthSettings.Password = conf.Get().AuthSettings.Password
	}

	if err := conf.Replace(&payload.Config); err != nil {
		slog.Error("config replacement rejected", "error", err)
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	slog.Info("configuration replaced via API")
	WriteJSON(w, http.StatusOK, PostConfigRequest{Config: *conf.Get()})
}
