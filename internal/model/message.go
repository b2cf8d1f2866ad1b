// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/formchat/internal/util"
)

// =============================================================================
// ROLE
// =============================================================================

// Role represents the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is a single entry of a conversation.
//
// A user message carries Prompt and Attachments. An assistant message carries
// Response, the text shown to the user, and RawResponse, the accumulated raw
// stream text it was derived from. IsStreaming is true only while the reply
// is being received.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	Prompt      string       `json:"prompt,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Response    string `json:"response,omitempty"`
	RawResponse string `json:"-"`
	IsStreaming bool   `json:"-"`

	// Failed marks an assistant message whose text is an error notice.
	Failed bool `json:"failed,omitempty"`

	// Interrupted marks a reply that stopped before the stream finished,
	// either cancelled or superseded by a newer send.
	Interrupted bool `json:"interrupted,omitempty"`

	InteractionID int64     `json:"interaction_id,omitempty"`
	Question      *Question `json:"question,omitempty"`
}

// NewUserMessage creates a user message for the given prompt.
func NewUserMessage(prompt string, attachments []Attachment) *Message {
	return &Message{
		ID:          generateID(),
		Role:        RoleUser,
		Timestamp:   time.Now(),
		Prompt:      prompt,
		Attachments: attachments,
	}
}

// NewAssistantMessage creates an empty assistant placeholder that is
// marked as streaming.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          generateID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// Text returns the user-visible text of the message.
func (m *Message) Text() string {
	if m.Role == RoleUser {
		return m.Prompt
	}
	return m.Response
}

// IsUser returns true for user messages.
func (m *Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true for assistant messages.
func (m *Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// Preview returns a single-line, truncated version of the text.
func (m *Message) Preview(maxRunes int) string {
	return util.TruncateRunes(util.SingleLine(m.Text()), maxRunes)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() Message {
	c := *m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Question != nil {
		q := m.Question.Clone()
		c.Question = &q
	}
	return c
}

func generateID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
