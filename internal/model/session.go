// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultSessionTitle is the title given to lazily created sessions.
const DefaultSessionTitle = "New Chat"

// =============================================================================
// SESSIONS
// =============================================================================

// SessionInfo is returned by the backend when a session is created.
type SessionInfo struct {
	ID             int64  `json:"chat_session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SessionStatus is the lifecycle state the backend reports for a session.
type SessionStatus string

const (
	SessionActive          SessionStatus = "Active"
	SessionCompleted       SessionStatus = "Completed"
	SessionPendingApproval SessionStatus = "Pending_Approval"
	SessionApproved        SessionStatus = "Approved"
	SessionRejected        SessionStatus = "Rejected"
	SessionArchived        SessionStatus = "Archived"
)

// SessionSummary is one entry of a user's session list.
type SessionSummary struct {
	ID              int64         `json:"chat_session_id"`
	UserID          int64         `json:"user_id"`
	Title           string        `json:"session_title"`
	StartTime       Timestamp     `json:"start_time"`
	EndTime         Timestamp     `json:"end_time"`
	Status          SessionStatus `json:"status"`
	LinkedFormulaID int64         `json:"linked_formula_id,omitempty"`
	Summary         string        `json:"summary,omitempty"`
}

// Interaction is one persisted prompt/response pair of a session.
type Interaction struct {
	ID          int64        `json:"interaction_id"`
	SessionID   int64        `json:"chat_session_id"`
	Prompt      string       `json:"prompt"`
	Response    string       `json:"response"`
	CreatedOn   Timestamp    `json:"created_on"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Template is a reusable prompt that can be attached by reference.
type Template struct {
	ID             string `json:"template_id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	PromptTemplate string `json:"prompt_template,omitempty"`
	Category       string `json:"category,omitempty"`
}

// Resource categories with a dedicated picker.
const (
	ResourceCategoryQuotes    = "quotes"
	ResourceCategoryKnowledge = "knowledge"
)

// Resource is an uploaded document in the shared resource library.
type Resource struct {
	ID             int64  `json:"resource_id"`
	FileName       string `json:"file_name"`
	Title          string `json:"title,omitempty"`
	FileType       string `json:"file_type,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	Category       string `json:"category,omitempty"`
	Description    string `json:"description,omitempty"`
	ApprovalStatus string `json:"approval_status,omitempty"`
}

// Approved reports whether the resource passed review.
func (r Resource) Approved() bool {
	return strings.EqualFold(r.ApprovalStatus, "Approved")
}

// Label returns the title, falling back to the file name.
func (r Resource) Label() string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	return strings.TrimSpace(r.FileName)
}

// =============================================================================
// TIMESTAMP
// =============================================================================

// Timestamp is a time that decodes from the formats backends commonly emit:
// RFC 3339, SQL datetime and ISO without zone. Empty and null decode to the
// zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}
