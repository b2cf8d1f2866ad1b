// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/session"
	"github.com/jeranaias/formchat/internal/util"
)

// ErrNotFound is returned when a transcript doesn't exist.
var ErrNotFound = errors.New("transcript not found")

// Store persists transcripts.
type Store interface {
	// Save writes t, replacing any transcript with the same ID, and returns
	// the ID.
	Save(t *Transcript) (string, error)
	Load(id string) (*Transcript, error)
	// List returns the archived transcripts, most recently updated first.
	List() ([]TranscriptMeta, error)
	Delete(id string) error
	Close() error
}

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is an archived conversation.
type Transcript struct {
	ID             string    `json:"id"`
	SessionID      int64     `json:"session_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Messages []StoredMessage `json:"messages"`
}

// StoredMessage is an archived message.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Raw       string    `json:"raw,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Attachments   []model.Attachment `json:"attachments,omitempty"`
	InteractionID int64              `json:"interaction_id,omitempty"`
	Failed        bool               `json:"failed,omitempty"`
	Interrupted   bool               `json:"interrupted,omitempty"`
}

// TranscriptMeta is the listing view of a transcript.
type TranscriptMeta struct {
	ID           string    `json:"id"`
	SessionID    int64     `json:"session_id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// TranscriptID returns the archive ID of a backend session.
func TranscriptID(sessionID int64) string {
	return "sess_" + strconv.FormatInt(sessionID, 10)
}

// FromSnapshot converts session state into a transcript. Replies still
// streaming are skipped.
func FromSnapshot(snap session.Snapshot) *Transcript {
	t := &Transcript{
		ID:             TranscriptID(snap.SessionID),
		SessionID:      snap.SessionID,
		ConversationID: snap.ConversationID,
		Title:          snap.Title,
		Messages:       make([]StoredMessage, 0, len(snap.Messages)),
	}
	for _, m := range snap.Messages {
		if m.IsStreaming {
			continue
		}
		t.Messages = append(t.Messages, StoredMessage{
			ID:            m.ID,
			Role:          m.Role.String(),
			Content:       m.Text(),
			Raw:           m.RawResponse,
			Timestamp:     m.Timestamp,
			Attachments:   m.Attachments,
			InteractionID: m.InteractionID,
			Failed:        m.Failed,
			Interrupted:   m.Interrupted,
		})
	}
	if len(t.Messages) > 0 {
		t.CreatedAt = t.Messages[0].Timestamp
	}
	t.Summary = t.summary()
	return t
}

// ToMessages rebuilds displayable messages.
func (t *Transcript) ToMessages() []model.Message {
	out := make([]model.Message, 0, len(t.Messages))
	for _, sm := range t.Messages {
		m := model.Message{
			ID:            sm.ID,
			Role:          model.Role(sm.Role),
			Timestamp:     sm.Timestamp,
			Attachments:   sm.Attachments,
			InteractionID: sm.InteractionID,
			Failed:        sm.Failed,
			Interrupted:   sm.Interrupted,
		}
		if m.Role == model.RoleUser {
			m.Prompt = sm.Content
		} else {
			m.Response = sm.Content
			m.RawResponse = sm.Raw
		}
		out = append(out, m)
	}
	return out
}

// Meta returns the listing view of t.
func (t *Transcript) Meta() TranscriptMeta {
	return TranscriptMeta{
		ID:           t.ID,
		SessionID:    t.SessionID,
		Title:        t.Title,
		Summary:      t.Summary,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		MessageCount: len(t.Messages),
		Preview:      t.Preview(),
	}
}

// Preview returns the first user prompt, truncated.
func (t *Transcript) Preview() string {
	for _, msg := range t.Messages {
		if msg.Role == model.RoleUser.String() && msg.Content != "" {
			return util.TruncateRunes(util.SingleLine(msg.Content), 80)
		}
	}
	return ""
}

func (t *Transcript) summary() string {
	for _, msg := range t.Messages {
		if msg.Role == model.RoleUser.String() && msg.Content != "" {
			return util.TruncateRunes(util.SingleLine(msg.Content), 50)
		}
	}
	return "New conversation"
}

// touch fills the ID-independent bookkeeping fields before a save.
func (t *Transcript) touch(now time.Time) {
	if t.Summary == "" {
		t.Summary = t.summary()
	}
	t.UpdatedAt = now
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

// FormatList renders archived transcripts as a table.
func FormatList(metas []TranscriptMeta) string {
	if len(metas) == 0 {
		return "No saved transcripts."
	}

	var sb strings.Builder
	sb.WriteString(formatPadded("ID", 14) + " " + formatPadded("Updated", 17) + " " + formatPadded("Msgs", 5) + " Summary\n")
	sb.WriteString(strings.Repeat("-", 64) + "\n")
	for _, m := range metas {
		sb.WriteString(formatPadded(util.TruncateRunes(m.ID, 14), 14) + " " +
			formatPadded(m.UpdatedAt.Local().Format("2006-01-02 15:04"), 17) + " " +
			formatPadded(strconv.Itoa(m.MessageCount), 5) + " " +
			util.TruncateRunes(m.Summary, 40) + "\n")
	}
	return sb.String()
}

func formatPadded(s string, width int) string {
	if n := len([]rune(s)); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
