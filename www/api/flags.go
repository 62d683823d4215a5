package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"harvester/engine/db"
)

const (
	defaultLimit  = 100
	defaultOffset = 0
)

type SubmitFlagsRequest struct {
	Flags []db.FlagSchema `json:"flags"`
}

type SubmitFlagRequest struct {
	Flag db.FlagSchema `json:"flag"`
}

type SubmitFlagsResponse struct {
	Inserted   int      `json:"inserted"`
	Duplicates []string `json:"duplicates,omitempty"`
	Invalid    []string `json:"invalid,omitempty"`
}

type FlagsResponse struct {
	Nflags int             `json:"nflags"`
	Flags  []db.FlagSchema `json:"flags"`
}

// validateFlags splits a batch into insertable flags and per-flag rejections.
// Validation failures are isolated; they never abort the rest of the batch.
func validateFlags(flags []db.FlagSchema) (valid []db.FlagSchema, invalid []string) {
	c := conf.Get()
	pattern := regexp.MustCompile(c.SubmitSettings.FlagFormat)
	teamCount := uint(len(c.Team))

	now := time.Now().Unix()
	for _, flag := range flags {
		if !pattern.MatchString(flag.Code) {
			slog.Warn("rejecting malformed flag code", "flag", flag.Code)
			invalid = append(invalid, flag.Code)
			continue
		}
		if flag.TeamID < 1 || flag.TeamID > teamCount {
			slog.Warn("rejecting flag with unknown team", "flag", flag.Code, "team_id", flag.TeamID)
			invalid = append(invalid, flag.Code)
			continue
		}
		if flag.SubmitTime == 0 {
			flag.SubmitTime = now
		}
		valid = append(valid, flag)
	}
	return valid, invalid
}

// SubmitFlags ingests a batch of captured flags into the store.
func SubmitFlags(w http.ResponseWriter, r *http.Request) {
	var payload SubmitFlagsRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Error("invalid submit-flags payload", "error", err)
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	valid, invalid := validateFlags(payload.Flags)

	inserted, duplicates, err := db.CreateFlags(valid)
	if err != nil {
		slog.Error("failed to insert flags", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	slog.Info("flag batch ingested", "inserted", inserted, "duplicates", len(duplicates), "invalid", len(invalid))
	WriteJSON(w, http.StatusOK, SubmitFlagsResponse{
		Inserted:   inserted,
		Duplicates: duplicates,
		Invalid:    invalid,
	})
}

// SubmitFlag ingests a single captured flag. The scheduler picks it up on
// the next cycle.
func SubmitFlag(w http.ResponseWriter, r *http.Request) {
	var payload SubmitFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Error("invalid submit-flag payload", "error", err)
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	valid, invalid := validateFlags([]db.FlagSchema{payload.Flag})
	if len(invalid) > 0 {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "flag failed validation: " + invalid[0]})
		return
	}

	inserted, duplicates, err := db.CreateFlags(valid)
	if err != nil {
		slog.Error("failed to insert single flag", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(duplicates) > 0 {
		WriteJSON(w, http.StatusConflict, map[string]string{"error": "flag already known: " + duplicates[0]})
		return
	}

	slog.Debug("single flag ingested", "inserted", inserted)
	WriteJSON(w, http.StatusOK, map[string]string{"message": "flag queued for submission"})
}

// GetFlags returns a page of stored flags.
func GetFlags(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = defaultOffset
	}

	flags, err := db.GetPagedFlags(uint(limit), uint(offset))
	if err != nil {
		slog.Error("failed to fetch paginated flags", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if flags == nil {
		flags = []db.FlagSchema{}
	}

	WriteJSON(w, http.StatusOK, FlagsResponse{
		Nflags: len(flags),
		Flags:  flags,
	})
}

// GetStats returns per-status flag counts and the team roster size.
func GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := db.CountFlagsByStatus()
	if err != nil {
		slog.Error("failed to count flags", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	teams, err := db.CountTeams()
	if err != nil {
		slog.Error("failed to count teams", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"stats": map[string]any{
			"flags_by_status": counts,
			"total_teams":     teams,
		},
	})
}
