// Package client provides a Go SDK for the swarmfuse HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"swarmfuse/pkg/models"
)

// Client calls the swarmfuse HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3584"
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) doJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api GET %s: %s", path, errBody.Error)
		}
		return fmt.Errorf("api GET %s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /healthz response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, "/healthz", &out)
	return out.OK, err
}

// ListSessions returns all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var out []models.Session
	err := c.doJSON(ctx, "/api/sessions", &out)
	return out, err
}

// SessionStatus returns one session with its task counts by status.
func (c *Client) SessionStatus(ctx context.Context, name string) (*models.SessionStatus, error) {
	var out models.SessionStatus
	err := c.doJSON(ctx, "/api/sessions/"+url.PathEscape(name), &out)
	return &out, err
}

// ListTasks returns the tasks in a session.
func (c *Client) ListTasks(ctx context.Context, session string) ([]models.Task, error) {
	var out []models.Task
	err := c.doJSON(ctx, "/api/sessions/"+url.PathEscape(session)+"/tasks", &out)
	return out, err
}

// Report returns the raw report JSON for a session. Reports outlive session
// teardown, so this works for sessions no longer in the store.
func (c *Client) Report(ctx context.Context, session string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, "/api/sessions/"+url.PathEscape(session)+"/report", &out)
	return out, err
}
