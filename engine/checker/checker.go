// Package checker talks the flag submission protocol of the external
// checker: a batch of flag codes out, one verdict per code back.
package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrProtocol marks responses that arrived but could not be understood.
// Callers fall back to resubmission, never to acceptance.
var ErrProtocol = errors.New("checker protocol error")

// Response is a single per-flag verdict from the checker.
type Response struct {
	Flag   string `json:"flag"`
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

// Verdict resolves the response against the verdict vocabulary.
func (r Response) Verdict() Verdict {
	return ParseVerdict(r.Status, r.Msg)
}

type Client struct {
	URL      string
	Protocol string
	Token    string

	HTTPClient *http.Client
}

func New(url string, protocol string, token string, timeout time.Duration) *Client {
	return &Client{
		URL:      url,
		Protocol: protocol,
		Token:    token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// keyedFlag is the structured wire form used by the "keyed" protocol.
type keyedFlag struct {
	Flag string `json:"flag"`
}

func (c *Client) encode(codes []string) ([]byte, error) {
	switch c.Protocol {
	case "keyed":
		payload := make([]keyedFlag, 0, len(codes))
		for _, code := range codes {
			payload = append(payload, keyedFlag{Flag: code})
		}
		return json.Marshal(payload)
	default: // "batch"
		return json.Marshal(codes)
	}
}

// Submit sends one batch of flag codes and returns the checker's verdicts.
// The response may be shorter than the batch; correlation is by flag code,
// never by position.
func (c *Client) Submit(ctx context.Context, codes []string) ([]Response, error) {
	body, err := c.encode(codes)
	if err != nil {
		return nil, fmt.Errorf("error during marshalling: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.URL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("error during request creation: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Team-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error during request submission: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error during response reading: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checker returned status %d", resp.StatusCode)
	}

	var responses []Response
	if err := json.Unmarshal(raw, &responses); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrProtocol, err)
	}

	for i := range responses {
		responses[i].Msg = stripFlagPrefix(responses[i].Msg)
	}

	return responses, nil
}

// stripFlagPrefix removes the "[FLAGCODE] " echo some checkers prepend to
// their verdict messages.
func stripFlagPrefix(msg string) string {
	if strings.HasPrefix(msg, "[") {
		if _, rest, found := strings.Cut(msg, "] "); found {
			return rest
		}
	}
	return msg
}
