package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// PauseEngine pauses or resumes the submission scheduler.
func PauseEngine(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pause payload"})
		return
	}

	if payload.Paused {
		eng.PauseEngine()
		slog.Info("engine paused via API")
	} else {
		eng.ResumeEngine()
		slog.Info("engine resumed via API")
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"paused": eng.IsPaused()})
}

// ResetFlags wipes the flag population and restarts the engine loop.
func ResetFlags(w http.ResponseWriter, r *http.Request) {
	if err := eng.ResetFlags(); err != nil {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "flags reset"})
}
