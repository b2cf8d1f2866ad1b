// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the HTTP client for the formulation chat backend.
//
// Regular endpoints answer with an envelope {success, data, message}; the
// client unwraps data or turns a failure into an *APIError. The streaming
// endpoint answers with a server-sent event body that is handed to an
// sse.Decoder.
//
// # Usage
//
//	client := backend.New("http://localhost:8080").
//	    WithTokenSource(tokens).
//	    WithLogger(logger)
//	info, err := client.CreateSession(ctx, "New Chat", userID)
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/formchat/internal/identity"
	"github.com/jeranaias/formchat/internal/model"
)

// Configuration constants for the backend API.
const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "formchat"
)

var (
	// sharedHTTPClient serves regular requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; streams end through their context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
)

// envelope is the response wrapper used by every non-streaming endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// Client talks to the chat backend. It is safe for concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	tokens       identity.TokenSource
	logger       zerolog.Logger
}

// New creates a client for the backend at baseURL.
func New(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		logger:       zerolog.Nop(),
	}
}

// WithHTTPClient uses hc for both regular and streaming requests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
	return c
}

// WithTokenSource sets where the bearer token comes from.
func (c *Client) WithTokenSource(ts identity.TokenSource) *Client {
	c.tokens = ts
	return c
}

// WithLogger sets the request logger.
func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	c.logger = logger
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSession creates a chat session owned by userID.
func (c *Client) CreateSession(ctx context.Context, title string, userID int64) (model.SessionInfo, error) {
	return c.CreateLinkedSession(ctx, title, userID, 0)
}

// CreateLinkedSession creates a session tied to a formula. A zero formulaID
// creates an unlinked session.
func (c *Client) CreateLinkedSession(ctx context.Context, title string, userID, formulaID int64) (model.SessionInfo, error) {
	body := struct {
		Title     string `json:"session_title"`
		UserID    int64  `json:"user_id"`
		FormulaID int64  `json:"linked_formula_id,omitempty"`
	}{title, userID, formulaID}

	var info model.SessionInfo
	if err := c.do(ctx, http.MethodPost, "/api/chat/sessions", nil, body, &info); err != nil {
		return model.SessionInfo{}, fmt.Errorf("create session: %w", err)
	}
	return info, nil
}

// ListSessions returns the sessions of userID. An empty status lists all.
func (c *Client) ListSessions(ctx context.Context, userID int64, status model.SessionStatus) ([]model.SessionSummary, error) {
	q := url.Values{"user_id": {strconv.FormatInt(userID, 10)}}
	if status != "" {
		q.Set("status", string(status))
	}

	var sessions []model.SessionSummary
	if err := c.do(ctx, http.MethodGet, "/api/chat/sessions", q, nil, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// History returns the persisted interactions of a session, oldest first.
func (c *Client) History(ctx context.Context, sessionID int64) ([]model.Interaction, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("load session %d: %w", sessionID, err)
	}
	interactions, err := decodeInteractions(raw)
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", sessionID, err)
	}
	return interactions, nil
}

// DeleteSession removes a session and its interactions.
func (c *Client) DeleteSession(ctx context.Context, sessionID int64) error {
	if err := c.do(ctx, http.MethodDelete, sessionPath(sessionID), nil, nil, nil); err != nil {
		return fmt.Errorf("delete session %d: %w", sessionID, err)
	}
	return nil
}

func sessionPath(id int64) string {
	return "/api/chat/sessions/" + strconv.FormatInt(id, 10)
}

// decodeInteractions accepts either a bare array or a session object that
// lists its interactions under "messages" or "interactions".
func decodeInteractions(raw json.RawMessage) ([]model.Interaction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var list []model.Interaction
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode interactions: %w", err)
		}
		return list, nil
	}

	var detail struct {
		Messages     []model.Interaction `json:"messages"`
		Interactions []model.Interaction `json:"interactions"`
	}
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if len(detail.Messages) > 0 {
		return detail.Messages, nil
	}
	return detail.Interactions, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// Templates returns the prompt templates offered to every user.
func (c *Client) Templates(ctx context.Context) ([]model.Template, error) {
	var templates []model.Template
	if err := c.do(ctx, http.MethodGet, "/api/chat/templates", nil, nil, &templates); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// Resources returns approved library resources, optionally restricted to a
// category.
func (c *Client) Resources(ctx context.Context, category string) ([]model.Resource, error) {
	var q url.Values
	if category != "" {
		q = url.Values{"category": {category}}
	}

	var all []model.Resource
	if err := c.do(ctx, http.MethodGet, "/api/resources", q, nil, &all); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	approved := all[:0]
	for _, r := range all {
		if r.Approved() {
			approved = append(approved, r)
		}
	}
	return approved, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, body != nil)
	return req, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	if c.tokens != nil {
		if tok := c.tokens.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
}

// do sends a request and decodes the envelope's data into out, which may
// be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp.StatusCode, data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: firstNonEmpty(env.Message, env.Error)}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
