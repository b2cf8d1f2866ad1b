// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// StreamEvent is one decoded frame of a streamed reply.
//
// Chunk carries incremental text. A frame with Done set ends the stream and
// may carry FullResponse, the authoritative final text, together with the
// interaction and conversation identifiers. A frame with Error set ends the
// stream with a failure; ErrorMessage holds any text the server supplied.
type StreamEvent struct {
	Chunk          string `json:"chunk,omitempty"`
	Done           bool   `json:"done,omitempty"`
	FullResponse   string `json:"full_response,omitempty"`
	InteractionID  int64  `json:"interaction_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          bool   `json:"error,omitempty"`
	ErrorMessage   string `json:"message,omitempty"`

	QuestionType    string   `json:"question_type,omitempty"`
	QuestionOptions []string `json:"question_options,omitempty"`
	AwaitingAnswer  bool     `json:"awaiting_answer,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Done || e.Error
}

// HasChunk reports whether the event carries incremental text.
func (e StreamEvent) HasChunk() bool {
	return e.Chunk != ""
}

// Question returns the structured question carried by the event, or nil
// when the question type is absent or unknown.
func (e StreamEvent) Question() *Question {
	qt, ok := ParseQuestionType(e.QuestionType)
	if !ok {
		return nil
	}
	return &Question{
		Type:           qt,
		Options:        append([]string(nil), e.QuestionOptions...),
		AwaitingAnswer: e.AwaitingAnswer,
	}
}

// UnmarshalJSON accepts the loose shapes seen from chat backends: error may
// be a boolean or a message string, and identifiers may be numbers or
// strings.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	type plain StreamEvent
	var aux struct {
		plain
		InteractionID  json.RawMessage `json:"interaction_id"`
		ConversationID json.RawMessage `json:"conversation_id"`
		Error          json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = StreamEvent(aux.plain)

	id, err := rawInt64(aux.InteractionID)
	if err != nil {
		return err
	}
	e.InteractionID = id
	e.ConversationID = rawString(aux.ConversationID)

	switch raw := bytes.TrimSpace(aux.Error); {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")), bytes.Equal(raw, []byte("false")):
	case bytes.Equal(raw, []byte("true")):
		e.Error = true
	default:
		if msg := rawString(raw); msg != "" {
			e.Error = true
			if e.ErrorMessage == "" {
				e.ErrorMessage = msg
			}
		}
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func rawInt64(raw json.RawMessage) (int64, error) {
	s := rawString(raw)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
