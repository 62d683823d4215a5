// Package client implements a programmatic control-plane client with
// session handling. Callers log in once and the client attaches the session
// token to subsequent calls, dropping back to a logged-out state whenever
// the server rejects the token.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"harvester/engine/config"
	"harvester/engine/db"
)

type State int

const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggingIn:
		return "logging_in"
	case StateLoggedIn:
		return "logged_in"
	default:
		return "unknown"
	}
}

// ErrNotAuthenticated is returned by calls that require a session when the
// client has not logged in, or its session has been invalidated.
var ErrNotAuthenticated = errors.New("client is not authenticated")

// AuthError wraps a server-side authentication rejection. Receiving one
// resets the client to logged out; the caller should log in again.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("server rejected credentials (status %d)", e.StatusCode)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	mu    sync.Mutex
	state State
	token string
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		state:      StateLoggedOut,
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Login exchanges the API password for a session token.
func (c *Client) Login(password string) error {
	c.mu.Lock()
	c.state = StateLoggingIn
	c.token = ""
	c.mu.Unlock()

	form := url.Values{"password": {password}}
	resp, err := c.HTTPClient.PostForm(c.BaseURL+"/api/v1/auth/login", form)
	if err != nil {
		c.reset()
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.reset()
		return &AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		c.reset()
		return fmt.Errorf("login failed: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.reset()
		return fmt.Errorf("failed to parse login response: %w", err)
	}
	if payload.Token == "" {
		c.reset()
		return errors.New("login response carried no token")
	}

	c.mu.Lock()
	c.state = StateLoggedIn
	c.token = payload.Token
	c.mu.Unlock()

	slog.Debug("client logged in", "server", c.BaseURL)
	return nil
}

// Verify asks the server whether the current session token is still valid.
func (c *Client) Verify() error {
	tok := c.Token()
	if tok == "" {
		return ErrNotAuthenticated
	}

	body, err := json.Marshal(map[string]string{"token": tok})
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Post(c.BaseURL+"/api/v1/auth/verify", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.reset()
		return &AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify failed: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Configure pushes a full configuration to the server.
func (c *Client) Configure(settings *config.ConfigSettings) error {
	body, err := json.Marshal(map[string]any{"config": settings})
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	resp, err := c.do(http.MethodPost, "/api/v1/config", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("config push rejected (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// FetchConfig retrieves the server's live configuration.
func (c *Client) FetchConfig() (*config.ConfigSettings, error) {
	resp, err := c.do(http.MethodGet, "/api/v1/config", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config fetch failed: unexpected status %d", resp.StatusCode)
	}

	var settings config.ConfigSettings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse config response: %w", err)
	}
	return &settings, nil
}

// SubmitFlags sends a batch of captured flags for submission.
func (c *Client) SubmitFlags(flags []db.FlagSchema) error {
	body, err := json.Marshal(map[string]any{"flags": flags})
	if err != nil {
		return fmt.Errorf("failed to encode flags: %w", err)
	}

	resp, err := c.do(http.MethodPost, "/api/v1/submit-flags", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("flag submission rejected (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// do issues an authenticated request. A 401 from the server invalidates the
// session before the error is returned.
func (c *Client) do(method, path string, body []byte) (*http.Response, error) {
	tok := c.Token()
	if tok == "" {
		return nil, ErrNotAuthenticated
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.reset()
		return nil, &AuthError{StatusCode: http.StatusUnauthorized}
	}
	return resp, nil
}

func (c *Client) reset() {
	c.mu.Lock()
	c.state = StateLoggedOut
	c.token = ""
	c.mu.Unlock()
}
