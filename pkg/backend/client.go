// Package backend is the REST client for the upstream API this toolkit
// rides on. The backend is an opaque collaborator: every response arrives
// in the uniform {success, message, data} envelope and every call is
// bearer-token authenticated.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// Client talks to the backend REST API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New returns a client for the given base URL and bearer token.
func New(base, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), token: token, http: hc}
}

// do issues a request and decodes the backend envelope. A non-2xx status or
// an envelope with success=false both surface as errors carrying the
// backend's message, so callers can render it inline.
func (c *Client) do(ctx context.Context, method, path string, body any) (*models.Envelope, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	var env models.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("backend response decode failed (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("backend_request_rejected", "method", method, "path", path, "status", resp.StatusCode)
		return &env, fmt.Errorf("backend status %d: %s", resp.StatusCode, env.Message)
	}
	if !env.Success {
		return &env, fmt.Errorf("backend rejected request: %s", env.Message)
	}
	return &env, nil
}

// CurrentUser fetches the authoritative user record, points included.
func (c *Client) CurrentUser(ctx context.Context) (*models.UserInfo, error) {
	env, err := c.do(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	var u models.UserInfo
	if err := json.Unmarshal(env.Data, &u); err != nil {
		return nil, fmt.Errorf("malformed user payload: %w", err)
	}
	return &u, nil
}

// SendMessageRequest is the send-message call body.
type SendMessageRequest struct {
	APIKey   string `json:"apiKey"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

// SendMessage posts one chat message. The returned message (when the
// backend echoes one) carries the assigned id for optimistic-echo dedup.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*models.ChatMessage, error) {
	env, err := c.do(ctx, http.MethodPost, "/chat/send", req)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	var m models.ChatMessage
	if err := json.Unmarshal(env.Data, &m); err != nil {
		// older backends return no message body on send; that is fine
		return nil, nil
	}
	return &m, nil
}

// ChatHistory lists the messages of one session, oldest first.
func (c *Client) ChatHistory(ctx context.Context, apiKey string) ([]models.ChatMessage, error) {
	env, err := c.do(ctx, http.MethodGet, "/chat/history/"+url.PathEscape(apiKey), nil)
	if err != nil {
		return nil, err
	}
	var msgs []models.ChatMessage
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &msgs); err != nil {
			return nil, fmt.Errorf("malformed history payload: %w", err)
		}
	}
	return msgs, nil
}

// UnreadCount returns the number of unread messages in one session.
func (c *Client) UnreadCount(ctx context.Context, apiKey string) (int, error) {
	env, err := c.do(ctx, http.MethodGet, "/chat/unread-count/"+url.PathEscape(apiKey), nil)
	if err != nil {
		return 0, err
	}
	var n int
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return 0, fmt.Errorf("malformed unread payload: %w", err)
		}
	}
	return n, nil
}

// MarkRead marks every message in the session as read.
func (c *Client) MarkRead(ctx context.Context, apiKey string) error {
	_, err := c.do(ctx, http.MethodPut, "/chat/mark-read/"+url.PathEscape(apiKey), nil)
	return err
}

// CreateOrGetSession ensures a chat session exists for apiKey.
func (c *Client) CreateOrGetSession(ctx context.Context, apiKey string) (*models.ChatSession, error) {
	env, err := c.do(ctx, http.MethodPost, "/chat/session", map[string]string{"apiKey": apiKey})
	if err != nil {
		return nil, err
	}
	var s models.ChatSession
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return nil, fmt.Errorf("malformed session payload: %w", err)
	}
	return &s, nil
}

// ListSessions lists every chat session; admin inbox only.
func (c *Client) ListSessions(ctx context.Context) ([]models.ChatSession, error) {
	env, err := c.do(ctx, http.MethodGet, "/chat/admin/sessions", nil)
	if err != nil {
		return nil, err
	}
	var ss []models.ChatSession
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &ss); err != nil {
			return nil, fmt.Errorf("malformed sessions payload: %w", err)
		}
	}
	return ss, nil
}
