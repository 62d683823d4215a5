package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"harvester/engine/config"
	"harvester/engine/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "hunter2"
	testToken    = "session-token-123"
)

// newTestServer simulates the control plane's auth surface.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("password") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": testToken})
	})

	requireToken := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+testToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("POST /api/v1/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Token string `json:"token"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.Token != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "valid"})
	})

	mux.HandleFunc("GET /api/v1/config", requireToken(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(config.ConfigSettings{
			RequiredSettings: config.RequiredConfig{EventName: "remote event"},
		})
	}))

	mux.HandleFunc("POST /api/v1/config", requireToken(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Config config.ConfigSettings `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(payload)
	}))

	mux.HandleFunc("POST /api/v1/submit-flags", requireToken(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Flags []db.FlagSchema `json:"flags"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		json.NewEncoder(w).Encode(map[string]int{"inserted": len(payload.Flags)})
	}))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestLoginStateMachine(t *testing.T) {
	server := newTestServer(t)
	c := New(server.URL)

	assert.Equal(t, StateLoggedOut, c.State())

	err := c.Login("wrong-password")
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr, "a rejected password is an auth error, not a transport error")
	assert.Equal(t, StateLoggedOut, c.State())
	assert.Empty(t, c.Token())

	require.NoError(t, c.Login(testPassword))
	assert.Equal(t, StateLoggedIn, c.State())
	assert.Equal(t, testToken, c.Token())
}

func TestCallsRequireLogin(t *testing.T) {
	server := newTestServer(t)
	c := New(server.URL)

	_, err := c.FetchConfig()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	err = c.Configure(&config.ConfigSettings{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	err = c.Verify()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAuthenticatedCalls(t *testing.T) {
	server := newTestServer(t)
	c := New(server.URL)
	require.NoError(t, c.Login(testPassword))

	require.NoError(t, c.Verify())

	remote, err := c.FetchConfig()
	require.NoError(t, err)
	assert.Equal(t, "remote event", remote.RequiredSettings.EventName)

	require.NoError(t, c.Configure(&config.ConfigSettings{
		RequiredSettings: config.RequiredConfig{EventName: "pushed event"},
	}))

	require.NoError(t, c.SubmitFlags([]db.FlagSchema{
		{Code: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=", TeamID: 1},
	}))
}

func TestRejectedTokenResetsSession(t *testing.T) {
	server := newTestServer(t)
	c := New(server.URL)
	require.NoError(t, c.Login(testPassword))

	// server-side session loss: the old token is no longer accepted
	c.mu.Lock()
	c.token = "stale-token"
	c.mu.Unlock()

	_, err := c.FetchConfig()
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)

	assert.Equal(t, StateLoggedOut, c.State(), "a rejected token drops the client back to logged out")
	assert.Empty(t, c.Token())

	// a fresh login recovers the session
	require.NoError(t, c.Login(testPassword))
	_, err = c.FetchConfig()
	assert.NoError(t, err)
}

func TestLoginAgainstUnreachableServer(t *testing.T) {
	server := newTestServer(t)
	url := server.URL
	server.Close()

	c := New(url)
	err := c.Login(testPassword)
	require.Error(t, err)
	var authErr *AuthError
	assert.False(t, errors.As(err, &authErr), "a transport failure is not an auth rejection")
	assert.Equal(t, StateLoggedOut, c.State())
}
