package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"harvester/engine/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCode(n int) string {
	return fmt.Sprintf("%031d=", n)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestSubmitFlagsValidationAndDedup(t *testing.T) {
	require.NoError(t, db.ResetFlags())

	payload := SubmitFlagsRequest{Flags: []db.FlagSchema{
		{Code: validCode(1), TeamID: 1, ServiceName: "web"},
		{Code: validCode(2), TeamID: 2, ServiceName: "auth"},
		{Code: "lowercase-is-not-a-flag", TeamID: 1},
		{Code: validCode(3), TeamID: 99}, // team not in the roster
	}}

	w := postJSON(t, SubmitFlags, "/api/v1/submit-flags", payload)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SubmitFlagsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Inserted)
	assert.Empty(t, resp.Duplicates)
	assert.ElementsMatch(t, []string{"lowercase-is-not-a-flag", validCode(3)}, resp.Invalid)

	// resubmitting the same batch reports duplicates instead of failing
	w = postJSON(t, SubmitFlags, "/api/v1/submit-flags", payload)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Inserted)
	assert.ElementsMatch(t, []string{validCode(1), validCode(2)}, resp.Duplicates)
}

func TestSubmitFlagsBadPayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit-flags", strings.NewReader("{broken"))
	w := httptest.NewRecorder()
	SubmitFlags(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSubmitSingleFlag(t *testing.T) {
	require.NoError(t, db.ResetFlags())

	payload := SubmitFlagRequest{Flag: db.FlagSchema{Code: validCode(10), TeamID: 1, ServiceName: "web"}}

	w := postJSON(t, SubmitFlag, "/api/v1/submit-flag", payload)
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, SubmitFlag, "/api/v1/submit-flag", payload)
	assert.Equal(t, http.StatusConflict, w.Code, "the same code twice is a conflict on the single-flag route")

	bad := SubmitFlagRequest{Flag: db.FlagSchema{Code: "nope", TeamID: 1}}
	w = postJSON(t, SubmitFlag, "/api/v1/submit-flag", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFlagsPagination(t *testing.T) {
	require.NoError(t, db.ResetFlags())

	for i := 0; i < 5; i++ {
		_, err := db.CreateFlag(db.FlagSchema{Code: validCode(20 + i), TeamID: 1, SubmitTime: int64(1000 + i)})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags?limit=2&offset=2", nil)
	w := httptest.NewRecorder()
	GetFlags(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp FlagsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Nflags)
	require.Len(t, resp.Flags, 2)
	assert.Equal(t, validCode(22), resp.Flags[0].Code, "pages follow submit time order")

	// bogus paging params fall back to defaults instead of erroring
	req = httptest.NewRequest(http.MethodGet, "/api/v1/flags?limit=-3&offset=x", nil)
	w = httptest.NewRecorder()
	GetFlags(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Nflags)
}

func TestGetStats(t *testing.T) {
	require.NoError(t, db.ResetFlags())

	for i, status := range []string{db.StatusAccepted, db.StatusAccepted, db.StatusDenied} {
		_, err := db.CreateFlag(db.FlagSchema{Code: validCode(30 + i), TeamID: 1, Status: status})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	GetStats(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Stats struct {
			FlagsByStatus map[string]int64 `json:"flags_by_status"`
			TotalTeams    int64            `json:"total_teams"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Stats.FlagsByStatus[db.StatusAccepted])
	assert.Equal(t, int64(1), resp.Stats.FlagsByStatus[db.StatusDenied])
	assert.Equal(t, int64(2), resp.Stats.TotalTeams)
}

func TestGetConfigHidesSecrets(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	GetConfig(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.NotContains(t, w.Body.String(), testPassword, "the api password must never be echoed")

	var echoed map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &echoed))
	assert.Contains(t, echoed, "RequiredSettings")
}

func TestPostConfigValidation(t *testing.T) {
	current := *conf.Get()

	t.Run("rejects invalid config", func(t *testing.T) {
		bad := current
		bad.CheckerSettings.CheckerURL = ""
		w := postJSON(t, PostConfig, "/api/v1/config", PostConfigRequest{Config: bad})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, current.CheckerSettings.CheckerURL, conf.Get().CheckerSettings.CheckerURL,
			"a rejected push leaves the live config untouched")
	})

	t.Run("inherits password and applies", func(t *testing.T) {
		next := current
		next.RequiredSettings.EventName = "pushed event"
		next.AuthSettings.Password = "" // stripped by the json tag on the wire
		w := postJSON(t, PostConfig, "/api/v1/config", PostConfigRequest{Config: next})
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "pushed event", conf.Get().RequiredSettings.EventName)
		assert.Equal(t, testPassword, conf.Get().AuthSettings.Password,
			"a push without a password keeps the running one")

		// restore for other tests
		require.NoError(t, conf.Replace(&current))
	})
}
