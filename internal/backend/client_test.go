// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/formchat/internal/model"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func writeEnvelope(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data}))
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat/sessions", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "New Chat", body["session_title"])
		assert.Equal(t, float64(7), body["user_id"])
		_, linked := body["linked_formula_id"]
		assert.False(t, linked)

		writeEnvelope(t, w, map[string]any{"chat_session_id": 31, "conversation_id": "c-31"})
	}))
	defer srv.Close()

	c := New(srv.URL + "/").WithTokenSource(staticToken("tok-1"))
	info, err := c.CreateSession(context.Background(), "New Chat", 7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionInfo{ID: 31, ConversationID: "c-31"}, info)
}

func TestCreateLinkedSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(12), body["linked_formula_id"])
		writeEnvelope(t, w, map[string]any{"chat_session_id": 1})
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateLinkedSession(context.Background(), "Formula 12", 7, 12)
	require.NoError(t, err)
}

func TestEnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"title too long"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateSession(context.Background(), "x", 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "title too long", apiErr.Message)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		target error
		msg    string
	}{
		{http.StatusUnauthorized, `{"message":"token expired"}`, ErrUnauthorized, "token expired"},
		{http.StatusForbidden, `{"detail":"forbidden"}`, ErrUnauthorized, "forbidden"},
		{http.StatusNotFound, `{"error":{"message":"no such session"}}`, ErrNotFound, "no such session"},
		{http.StatusInternalServerError, "boom", nil, "boom"},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL).History(context.Background(), 5)
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			} else {
				assert.False(t, errors.Is(err, ErrUnauthorized))
				assert.False(t, errors.Is(err, ErrNotFound))
			}

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.msg, apiErr.Message)
		})
	}
}

func TestListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("user_id"))
		assert.Equal(t, "Active", r.URL.Query().Get("status"))
		writeEnvelope(t, w, []map[string]any{
			{"chat_session_id": 1, "user_id": 7, "session_title": "Emulsion", "start_time": "2025-02-01 10:00:00", "status": "Active"},
		})
	}))
	defer srv.Close()

	sessions, err := New(srv.URL).ListSessions(context.Background(), 7, model.SessionActive)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Emulsion", sessions[0].Title)
	assert.Equal(t, 2025, sessions[0].StartTime.Year())
	assert.True(t, sessions[0].EndTime.IsZero())
}

func TestHistoryShapes(t *testing.T) {
	interactions := []map[string]any{
		{"interaction_id": 1, "prompt": "a", "response": "b"},
		{"interaction_id": 2, "prompt": "c", "response": "d"},
	}
	shapes := map[string]any{
		"messages":     map[string]any{"chat_session_id": 5, "messages": interactions},
		"interactions": map[string]any{"chat_session_id": 5, "interactions": interactions},
		"bare array":   interactions,
	}

	for name, data := range shapes {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/chat/sessions/5", r.URL.Path)
				writeEnvelope(t, w, data)
			}))
			defer srv.Close()

			got, err := New(srv.URL).History(context.Background(), 5)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "c", got[1].Prompt)
		})
	}
}

func TestDeleteSession(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/chat/sessions/9", r.URL.Path)
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).DeleteSession(context.Background(), 9))
	assert.True(t, called)
}

func TestTemplatesAndResources(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/templates", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, []map[string]any{{"template_id": "tpl-1", "title": "Cost estimate"}})
	})
	mux.HandleFunc("/api/resources", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "quotes", r.URL.Query().Get("category"))
		writeEnvelope(t, w, []map[string]any{
			{"resource_id": 1, "file_name": "a.pdf", "approval_status": "Approved"},
			{"resource_id": 2, "file_name": "b.pdf", "approval_status": "Pending"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	templates, err := c.Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "tpl-1", templates[0].ID)

	resources, err := c.Resources(context.Background(), "quotes")
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, int64(1), resources[0].ID)
}

func TestWithTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeEnvelope(t, w, nil)
	}))
	defer srv.Close()

	_, err := New(srv.URL).WithTimeout(20*time.Millisecond).Templates(context.Background())
	assert.Error(t, err)
	assert.Equal(t, DefaultTimeout, sharedHTTPClient.Timeout, "shared client must not change")
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStreamMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(3), body["session_id"])
		assert.Equal(t, "Hello", body["message"])
		assert.Equal(t, []any{}, body["attachments"])
		_, hasConv := body["conversation_id"]
		assert.False(t, hasConv)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":\"Hi\"}\n\n")
		w.(http.Flusher).Flush()
		fmt.Fprint(w, "data: {\"done\":true,\"full_response\":\"Hi\",\"interaction_id\":8}\n\n")
	}))
	defer srv.Close()

	stream, err := New(srv.URL).StreamMessage(context.Background(), StreamRequest{SessionID: 3, Message: "Hello", UserID: 7})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "Hi", ev.Chunk)

	ev, err = stream.Next()
	require.NoError(t, err)
	assert.True(t, ev.Done)
	assert.Equal(t, int64(8), ev.InteractionID)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamMessage_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL).StreamMessage(context.Background(), StreamRequest{SessionID: 1, Message: "x", UserID: 1})
	assert.True(t, IsUnauthorized(err))
}

func TestStreamMessage_CancelAbortsRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"chunk\":\"a\"}\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := New(srv.URL).StreamMessage(ctx, StreamRequest{SessionID: 1, Message: "x", UserID: 1})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	require.NoError(t, err)

	cancel()
	_, err = stream.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}
