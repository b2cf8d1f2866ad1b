// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/formchat/internal/attach"
	"github.com/jeranaias/formchat/internal/backend"
	"github.com/jeranaias/formchat/internal/identity"
	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/reconcile"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func newTestServer(t *testing.T, srv *Server) *backend.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return backend.New(ts.URL)
}

// =============================================================================
// REST ENDPOINTS
// =============================================================================

func TestSessionLifecycle(t *testing.T) {
	srv := NewServer("").WithChunking(0, 0)
	client := newTestServer(t, srv)
	ctx := context.Background()

	info, err := client.CreateSession(ctx, "", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.ID)
	assert.NotEmpty(t, info.ConversationID)

	_, err = client.CreateLinkedSession(ctx, "Formula 12", 8, 12)
	require.NoError(t, err)

	sessions, err := client.ListSessions(ctx, 7, "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.DefaultSessionTitle, sessions[0].Title)
	assert.Equal(t, model.SessionActive, sessions[0].Status)
	assert.False(t, sessions[0].StartTime.IsZero())

	history, err := client.History(ctx, info.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, client.DeleteSession(ctx, info.ID))
	_, err = client.History(ctx, info.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.ErrorIs(t, client.DeleteSession(ctx, info.ID), backend.ErrNotFound)

	assert.Equal(t, int64(2), srv.Stats().SessionsCreated)
}

func TestCreateSession_RequiresUser(t *testing.T) {
	client := newTestServer(t, NewServer(""))
	_, err := client.CreateSession(context.Background(), "x", 0)

	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "user_id is required", apiErr.Message)
}

func TestCatalog(t *testing.T) {
	client := newTestServer(t, NewServer(""))
	ctx := context.Background()

	templates, err := client.Templates(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, templates)

	knowledge, err := client.Resources(ctx, model.ResourceCategoryKnowledge)
	require.NoError(t, err)
	require.Len(t, knowledge, 1, "pending resources are filtered by the client")
	assert.Equal(t, "Emulsifier HLB table", knowledge[0].Label())

	all, err := client.Resources(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAuth(t *testing.T) {
	srv := NewServer("").WithToken("dev-secret")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := backend.New(ts.URL).Templates(context.Background())
	assert.True(t, backend.IsUnauthorized(err))

	_, err = backend.New(ts.URL).WithTokenSource(staticToken("wrong")).Templates(context.Background())
	assert.True(t, backend.IsUnauthorized(err))

	_, err = backend.New(ts.URL).WithTokenSource(staticToken("dev-secret")).Templates(context.Background())
	assert.NoError(t, err)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health check needs no token")
}

func TestRateLimit(t *testing.T) {
	srv := NewServer("").WithRateLimiter(NewRateLimiter(0.001, 2))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, http.StatusTooManyRequests}, codes)
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("a", "a"))
	assert.False(t, ValidateBearerToken("a", "b"))
	assert.False(t, ValidateBearerToken("", ""))
}

func TestRecovery(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStream(t *testing.T) {
	srv := NewServer("").WithChunking(5, 0)
	client := newTestServer(t, srv)
	ctx := context.Background()

	info, err := client.CreateSession(ctx, "t", 3)
	require.NoError(t, err)

	stream, err := client.StreamMessage(ctx, backend.StreamRequest{SessionID: info.ID, Message: "Hi", UserID: 3})
	require.NoError(t, err)
	defer stream.Close()

	var raw strings.Builder
	var done model.StreamEvent
	for ev, err := range stream.All() {
		require.NoError(t, err)
		raw.WriteString(ev.Chunk)
		if ev.Done {
			done = ev
		}
	}

	assert.Equal(t, `{"response":"You asked: Hi"}`, raw.String())
	assert.Equal(t, raw.String(), done.FullResponse)
	assert.Equal(t, int64(1), done.InteractionID)
	assert.Equal(t, info.ConversationID, done.ConversationID)

	history, err := client.History(ctx, info.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Hi", history[0].Prompt)
	assert.Equal(t, done.FullResponse, history[0].Response)
	assert.Equal(t, int64(1), srv.Stats().StreamsCompleted)
}

func TestStream_Rejections(t *testing.T) {
	client := newTestServer(t, NewServer(""))
	ctx := context.Background()
	info, err := client.CreateSession(ctx, "t", 3)
	require.NoError(t, err)

	_, err = client.StreamMessage(ctx, backend.StreamRequest{SessionID: 99, Message: "x", UserID: 3})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = client.StreamMessage(ctx, backend.StreamRequest{SessionID: info.ID, Message: "  ", UserID: 3})
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestStream_ResponderError(t *testing.T) {
	srv := NewServer("").WithResponder(func(context.Context, backend.StreamRequest) (Reply, error) {
		return Reply{}, errors.New("model overloaded")
	})
	client := newTestServer(t, srv)
	ctx := context.Background()
	info, err := client.CreateSession(ctx, "t", 3)
	require.NoError(t, err)

	stream, err := client.StreamMessage(ctx, backend.StreamRequest{SessionID: info.ID, Message: "x", UserID: 3})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.True(t, ev.Error)
	assert.Equal(t, "model overloaded", ev.ErrorMessage)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_ClientCancel(t *testing.T) {
	srv := NewServer("").WithChunking(1, 20*time.Millisecond)
	client := newTestServer(t, srv)
	info, err := client.CreateSession(context.Background(), "t", 3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.StreamMessage(ctx, backend.StreamRequest{SessionID: info.ID, Message: "long prompt", UserID: 3})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool { return srv.Stats().StreamsAborted == 1 }, 2*time.Second, 10*time.Millisecond)
	history, err := client.History(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "aborted replies are not stored")
}

func TestSplitRunes(t *testing.T) {
	assert.Equal(t, []string{"hé", "ll", "ö"}, splitRunes("héllö", 2))
	assert.Equal(t, []string{"abc"}, splitRunes("abc", 0))
}

// =============================================================================
// END TO END
// =============================================================================

func TestControllerAgainstServer(t *testing.T) {
	srv := NewServer("").
		WithChunking(4, 0).
		WithResponder(func(_ context.Context, req backend.StreamRequest) (Reply, error) {
			if strings.Contains(req.Message, "skin") {
				return Reply{Text: "Which skin types?", Question: &model.Question{
					Type: model.QuestionCheckbox, Options: []string{"dry", "oily"}, AwaitingAnswer: true,
				}}, nil
			}
			return Reply{Text: "Noted: " + req.Message}, nil
		})
	client := newTestServer(t, srv)

	ctrl := reconcile.New(reconcile.HTTPBackend(client), identity.Static(5), reconcile.WithThrottle(0))

	wait := func(turn *reconcile.Turn) reconcile.Result {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := turn.Wait(ctx)
		require.NoError(t, err)
		return res
	}

	sel := attach.Selection{}
	sel.AddFile(attach.LocalFile{Name: "base.pdf", Size: 2048, MimeType: "application/pdf"})
	turn, err := ctrl.SendMessage(context.Background(), "Formulate a lotion for my skin", sel)
	require.NoError(t, err)
	res := wait(turn)
	require.Equal(t, reconcile.OutcomeCompleted, res.Outcome)
	assert.Equal(t, "Which skin types?", res.Reply.Response)
	require.NotNil(t, res.Reply.Question)

	turn, err = ctrl.AnswerQuestion(context.Background(), []string{"dry", "oily"})
	require.NoError(t, err)
	res = wait(turn)
	assert.Equal(t, "Noted: dry, oily", res.Reply.Response)

	id, ok := ctrl.SessionID()
	require.True(t, ok)
	history, err := client.History(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Len(t, history[0].Attachments, 1)
	assert.Equal(t, "2 KB", history[0].Attachments[0].SizeLabel)

	ctrl.StartNewSession()
	require.NoError(t, ctrl.LoadHistory(context.Background(), id))
	msgs := ctrl.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "Which skin types?", msgs[1].Response)
	assert.Equal(t, "Noted: dry, oily", msgs[3].Response)
}
