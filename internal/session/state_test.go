// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/formchat/internal/model"
)

type fakeBackend struct {
	calls        atomic.Int32
	info         model.SessionInfo
	err          error
	delay        time.Duration
	interactions []model.Interaction
	lastTitle    string
	lastUser     int64
	mu           sync.Mutex
}

func (f *fakeBackend) CreateSession(ctx context.Context, title string, userID int64) (model.SessionInfo, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastTitle, f.lastUser = title, userID
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.info, f.err
}

func (f *fakeBackend) History(ctx context.Context, sessionID int64) ([]model.Interaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.interactions, nil
}

// =============================================================================
// SESSION CREATION
// =============================================================================

func TestState_EnsureSessionCreatesOnce(t *testing.T) {
	fb := &fakeBackend{info: model.SessionInfo{ID: 10, ConversationID: "conv-1"}, delay: 20 * time.Millisecond}
	st := NewState()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := st.EnsureSession(context.Background(), fb, model.DefaultSessionTitle, 7)
			assert.NoError(t, err)
			assert.Equal(t, int64(10), id)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fb.calls.Load())
	assert.Equal(t, "New Chat", fb.lastTitle)
	assert.Equal(t, int64(7), fb.lastUser)
	assert.Equal(t, "conv-1", st.ConversationID())
	assert.Equal(t, "New Chat", st.Title())
}

func TestState_CreateFailure(t *testing.T) {
	boom := errors.New("backend down")
	st := NewState()

	_, err := st.EnsureSession(context.Background(), &fakeBackend{err: boom}, "t", 1)
	assert.ErrorIs(t, err, boom)

	_, ok := st.SessionID()
	assert.False(t, ok)
}

func TestState_CreateRejectsZeroID(t *testing.T) {
	st := NewState()
	_, err := st.Create(context.Background(), &fakeBackend{}, "t", 1)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestState_CreateDiscardedAfterReset(t *testing.T) {
	fb := &fakeBackend{info: model.SessionInfo{ID: 3}, delay: 50 * time.Millisecond}
	st := NewState()

	done := make(chan error, 1)
	go func() {
		_, err := st.Create(context.Background(), fb, "t", 1)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	st.Reset()

	assert.ErrorIs(t, <-done, ErrSessionChanged)
	_, ok := st.SessionID()
	assert.False(t, ok)
}

// =============================================================================
// STREAMING
// =============================================================================

func TestState_AppendOrder(t *testing.T) {
	st := NewState()
	st.AppendUserMessage("Hello", []model.Attachment{{Kind: model.AttachmentLocalFile, DisplayName: "a.pdf"}})
	st.AppendPendingAssistantMessage(1)

	msgs := st.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Prompt)
	assert.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].IsStreaming)
	assert.True(t, st.Streaming())
}

func TestState_ApplyAndFinalize(t *testing.T) {
	st := NewState()
	st.AppendUserMessage("q", nil)
	st.AppendPendingAssistantMessage(4)

	assert.True(t, st.ApplyStreamChunk(4, `{"response":"Hi`, `{"response":"Hi`))
	last, _ := st.Last()
	assert.Equal(t, `{"response":"Hi`, last.Response)
	assert.True(t, last.IsStreaming)

	final, ok := st.FinalizeAssistantMessage(4, Final{
		Text:           "Hi there",
		Raw:            `{"response":"Hi there"}`,
		InteractionID:  99,
		ConversationID: "c-9",
		Question:       &model.Question{Type: model.QuestionRadio, Options: []string{"a"}},
	})
	require.True(t, ok)
	assert.Equal(t, "Hi there", final.Response)

	last, _ = st.Last()
	assert.Equal(t, "Hi there", last.Response)
	assert.Equal(t, `{"response":"Hi there"}`, last.RawResponse)
	assert.False(t, last.IsStreaming)
	assert.Equal(t, int64(99), last.InteractionID)
	require.NotNil(t, last.Question)
	assert.Equal(t, model.QuestionRadio, last.Question.Type)
	assert.Equal(t, "c-9", st.ConversationID())
	assert.False(t, st.Streaming())

	assert.False(t, st.ApplyStreamChunk(4, "late", "late"), "finalized reply must not change")
}

func TestState_StaleGenerationRejected(t *testing.T) {
	st := NewState()
	st.AppendUserMessage("first", nil)
	st.AppendPendingAssistantMessage(1)
	assert.True(t, st.ApplyStreamChunk(1, "partial", "partial"))

	st.AppendUserMessage("second", nil)
	st.AppendPendingAssistantMessage(2)

	assert.False(t, st.ApplyStreamChunk(1, "partial more", "partial more"))
	_, ok := st.FinalizeAssistantMessage(1, Final{Text: "old"})
	assert.False(t, ok)
	assert.True(t, st.ApplyStreamChunk(2, "new", "new"))

	msgs := st.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "partial", msgs[1].Response)
	assert.False(t, msgs[1].IsStreaming)
	assert.True(t, msgs[1].Interrupted)
	assert.Equal(t, "new", msgs[3].Response)

	streaming := 0
	for _, m := range msgs {
		if m.IsStreaming {
			streaming++
		}
	}
	assert.Equal(t, 1, streaming)
}

func TestState_ZeroGenerationNeverOwns(t *testing.T) {
	st := NewState()
	st.AppendPendingAssistantMessage(0)
	assert.False(t, st.ApplyStreamChunk(0, "x", "x"))
}

func TestState_InterruptPending(t *testing.T) {
	st := NewState()
	st.AppendPendingAssistantMessage(5)
	st.ApplyStreamChunk(5, "half", "half")

	_, ok := st.InterruptPending(6)
	assert.False(t, ok)

	pending, ok := st.Pending(5)
	require.True(t, ok)
	assert.True(t, pending.IsStreaming)

	stopped, ok := st.InterruptPending(5)
	require.True(t, ok)
	assert.Equal(t, "half", stopped.Response)
	assert.False(t, stopped.IsStreaming)

	_, ok = st.Pending(5)
	assert.False(t, ok)

	last, _ := st.Last()
	assert.Equal(t, "half", last.Response)
	assert.True(t, last.Interrupted)
	assert.False(t, st.Streaming())
}

func TestState_RecordConversationID(t *testing.T) {
	st := NewState()
	st.RecordConversationID("a")
	st.RecordConversationID("")
	assert.Equal(t, "a", st.ConversationID())
}

func TestState_MessagesAreCopies(t *testing.T) {
	st := NewState()
	st.AppendUserMessage("x", nil)
	msgs := st.Messages()
	msgs[0].Prompt = "changed"
	assert.Equal(t, "x", st.Messages()[0].Prompt)
}

// =============================================================================
// REPLACEMENT
// =============================================================================

func TestState_Reset(t *testing.T) {
	st := NewState()
	_, err := st.Create(context.Background(), &fakeBackend{info: model.SessionInfo{ID: 1, ConversationID: "c"}}, "t", 1)
	require.NoError(t, err)
	st.AppendPendingAssistantMessage(3)

	st.Reset()

	_, ok := st.SessionID()
	assert.False(t, ok)
	assert.Empty(t, st.ConversationID())
	assert.Equal(t, 0, st.Len())
	assert.False(t, st.ApplyStreamChunk(3, "x", "x"))
}

func TestState_LoadHistory(t *testing.T) {
	created := model.Timestamp{Time: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	fb := &fakeBackend{interactions: []model.Interaction{
		{ID: 1, Prompt: "What is HLB?", Response: `{"response":"Hydrophilic-lipophilic balance."}`, CreatedOn: created},
		{ID: 2, Prompt: "Thanks", Response: "You're welcome.",
			Attachments: []model.Attachment{{Kind: model.AttachmentLocalFile, DisplayName: "f.pdf"}}},
	}}

	st := NewState()
	st.AppendUserMessage("old", nil)
	st.AppendPendingAssistantMessage(8)

	require.NoError(t, st.LoadHistory(context.Background(), fb, 42))

	id, ok := st.SessionID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	msgs := st.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is HLB?", msgs[0].Prompt)
	assert.Equal(t, created.Time, msgs[0].Timestamp)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hydrophilic-lipophilic balance.", msgs[1].Response)
	assert.False(t, msgs[1].IsStreaming)
	assert.Equal(t, int64(1), msgs[1].InteractionID)
	assert.Len(t, msgs[2].Attachments, 1)
	assert.Equal(t, "You're welcome.", msgs[3].Response)

	assert.False(t, st.ApplyStreamChunk(8, "stale", "stale"))
}

func TestState_LoadHistoryFailureKeepsState(t *testing.T) {
	boom := errors.New("404")
	st := NewState()
	st.AppendUserMessage("keep", nil)

	err := st.LoadHistory(context.Background(), &fakeBackend{err: boom}, 5)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, st.Len())

	assert.ErrorIs(t, st.LoadHistory(context.Background(), &fakeBackend{}, 0), ErrNoSession)
}

func TestState_Snapshot(t *testing.T) {
	st := NewState()
	_, err := st.Create(context.Background(), &fakeBackend{info: model.SessionInfo{ID: 6}}, "Emulsions", 1)
	require.NoError(t, err)
	st.AppendUserMessage("hi", nil)

	snap := st.Snapshot()
	assert.Equal(t, int64(6), snap.SessionID)
	assert.Equal(t, "Emulsions", snap.Title)
	assert.Len(t, snap.Messages, 1)
}
