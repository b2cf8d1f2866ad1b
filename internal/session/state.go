// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jeranaias/formchat/internal/extract"
	"github.com/jeranaias/formchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoSession is returned by operations that need a session ID.
	ErrNoSession = errors.New("no active session")

	// ErrSessionChanged is returned when the state was reset or replaced
	// while a session was being created or a history was being fetched.
	ErrSessionChanged = errors.New("session changed during request")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Creator creates sessions on the backend.
type Creator interface {
	CreateSession(ctx context.Context, title string, userID int64) (model.SessionInfo, error)
}

// HistoryLoader fetches the persisted interactions of a session.
type HistoryLoader interface {
	History(ctx context.Context, sessionID int64) ([]model.Interaction, error)
}

// =============================================================================
// STATE
// =============================================================================

// Final is the outcome written into a reply when its stream ends.
type Final struct {
	Text           string
	Raw            string
	InteractionID  int64
	ConversationID string
	Question       *model.Question
	Failed         bool
}

// Snapshot is a copy of the state at one instant.
type Snapshot struct {
	SessionID      int64
	ConversationID string
	Title          string
	Messages       []model.Message
}

// State is the conversation state of one chat. All methods are safe for
// concurrent use.
type State struct {
	mu             sync.Mutex
	sessionID      int64
	conversationID string
	title          string
	messages       []*model.Message

	// pending is the streaming reply and pendingGen the stream bound to it.
	pending    *model.Message
	pendingGen uint64

	// epoch changes whenever the session is replaced wholesale.
	epoch uint64

	createMu sync.Mutex
}

// NewState returns an empty state with no session.
func NewState() *State {
	return &State{}
}

// SessionID returns the current session ID, if one was assigned.
func (s *State) SessionID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID, s.sessionID != 0
}

// ConversationID returns the AI backend conversation ID, if known.
func (s *State) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Title returns the session title.
func (s *State) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Create asks the backend for a new session and adopts it. The message list
// is left alone so that a prompt typed before the session existed stays in
// place. Concurrent calls are serialized.
func (s *State) Create(ctx context.Context, creator Creator, title string, userID int64) (model.SessionInfo, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()
	return s.create(ctx, creator, title, userID)
}

// EnsureSession returns the current session ID, creating a session first
// when there is none. Concurrent callers share one creation.
func (s *State) EnsureSession(ctx context.Context, creator Creator, title string, userID int64) (int64, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if id, ok := s.SessionID(); ok {
		return id, nil
	}
	info, err := s.create(ctx, creator, title, userID)
	if err != nil {
		return 0, err
	}
	return info.ID, nil
}

func (s *State) create(ctx context.Context, creator Creator, title string, userID int64) (model.SessionInfo, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	info, err := creator.CreateSession(ctx, title, userID)
	if err != nil {
		return model.SessionInfo{}, fmt.Errorf("create session: %w", err)
	}
	if info.ID == 0 {
		return model.SessionInfo{}, fmt.Errorf("create session: %w", ErrNoSession)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return model.SessionInfo{}, ErrSessionChanged
	}
	s.sessionID = info.ID
	s.title = title
	if info.ConversationID != "" {
		s.conversationID = info.ConversationID
	}
	return info, nil
}

// RecordConversationID stores the AI backend conversation ID. Empty IDs are
// ignored.
func (s *State) RecordConversationID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendUserMessage appends a user prompt and returns a copy of it.
func (s *State) AppendUserMessage(text string, attachments []model.Attachment) model.Message {
	msg := model.NewUserMessage(text, attachments)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return msg.Clone()
}

// AppendPendingAssistantMessage appends a streaming placeholder bound to
// gen. A reply still pending from an earlier stream stops streaming and
// keeps its partial text.
func (s *State) AppendPendingAssistantMessage(gen uint64) model.Message {
	msg := model.NewAssistantMessage()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	s.messages = append(s.messages, msg)
	s.pending = msg
	s.pendingGen = gen
	return msg.Clone()
}

// ApplyStreamChunk overwrites the pending reply's text. It reports false,
// changing nothing, when gen is not the generation bound to the reply.
func (s *State) ApplyStreamChunk(gen uint64, raw, display string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(gen) {
		return false
	}
	s.pending.RawResponse = raw
	s.pending.Response = display
	return true
}

// FinalizeAssistantMessage completes the pending reply, releases the
// binding and returns a copy of the reply. It reports false when gen does
// not own the reply.
func (s *State) FinalizeAssistantMessage(gen uint64, final Final) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(gen) {
		return model.Message{}, false
	}

	msg := s.pending
	msg.Response = final.Text
	if final.Raw != "" {
		msg.RawResponse = final.Raw
	}
	msg.IsStreaming = false
	msg.Failed = final.Failed
	msg.InteractionID = final.InteractionID
	if final.Question != nil {
		q := final.Question.Clone()
		msg.Question = &q
	}
	if final.ConversationID != "" {
		s.conversationID = final.ConversationID
	}
	s.pending = nil
	s.pendingGen = 0
	return msg.Clone(), true
}

// InterruptPending stops the reply bound to gen, keeping its partial text,
// and returns a copy of it.
func (s *State) InterruptPending(gen uint64) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(gen) {
		return model.Message{}, false
	}
	msg := s.pending
	s.interruptLocked()
	return msg.Clone(), true
}

// Pending returns a copy of the reply bound to gen.
func (s *State) Pending(gen uint64) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(gen) {
		return model.Message{}, false
	}
	return s.pending.Clone(), true
}

// Streaming reports whether a reply is pending.
func (s *State) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *State) ownsLocked(gen uint64) bool {
	return s.pending != nil && gen != 0 && s.pendingGen == gen
}

func (s *State) interruptLocked() {
	if s.pending == nil {
		return
	}
	s.pending.IsStreaming = false
	s.pending.Interrupted = true
	s.pending = nil
	s.pendingGen = 0
}

// Messages returns copies of all messages in order.
func (s *State) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyMessagesLocked()
}

// Len returns the number of messages.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Last returns a copy of the newest message.
func (s *State) Last() (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return model.Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Snapshot returns a copy of the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:      s.sessionID,
		ConversationID: s.conversationID,
		Title:          s.title,
		Messages:       s.copyMessagesLocked(),
	}
}

func (s *State) copyMessagesLocked() []model.Message {
	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// =============================================================================
// REPLACEMENT
// =============================================================================

// Reset forgets the session and all messages. A pending reply is dropped
// with them, so its stream can no longer apply updates.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *State) resetLocked() {
	s.interruptLocked()
	s.sessionID = 0
	s.conversationID = ""
	s.title = ""
	s.messages = nil
	s.epoch++
}

// LoadHistory replaces the state with the persisted interactions of
// sessionID, each one becoming a user prompt followed by its reply.
func (s *State) LoadHistory(ctx context.Context, loader HistoryLoader, sessionID int64) error {
	if sessionID <= 0 {
		return ErrNoSession
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	interactions, err := loader.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	messages := MessagesFromInteractions(interactions)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrSessionChanged
	}
	s.resetLocked()
	s.sessionID = sessionID
	s.messages = messages
	return nil
}

// MessagesFromInteractions rebuilds the alternating user/assistant message
// list of a stored session. Replies go through the display extractor since
// backends often persist the raw JSON-wrapped text.
func MessagesFromInteractions(interactions []model.Interaction) []*model.Message {
	messages := make([]*model.Message, 0, 2*len(interactions))
	for _, it := range interactions {
		user := model.NewUserMessage(it.Prompt, it.Attachments)
		user.InteractionID = it.ID

		reply := model.NewAssistantMessage()
		reply.IsStreaming = false
		reply.RawResponse = it.Response
		reply.Response = extract.DisplayText(it.Response)
		reply.InteractionID = it.ID

		if !it.CreatedOn.IsZero() {
			user.Timestamp = it.CreatedOn.Time
			reply.Timestamp = it.CreatedOn.Time
		}
		messages = append(messages, user, reply)
	}
	return messages
}
