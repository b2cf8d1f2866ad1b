// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// QuestionType is the input shape of a structured follow-up question.
type QuestionType string

const (
	QuestionText     QuestionType = "text"
	QuestionRadio    QuestionType = "radio"
	QuestionCheckbox QuestionType = "checkbox"
	QuestionDropdown QuestionType = "dropdown"
)

// ParseQuestionType returns the question type for s, reporting false for
// unknown values.
func ParseQuestionType(s string) (QuestionType, bool) {
	switch qt := QuestionType(strings.ToLower(strings.TrimSpace(s))); qt {
	case QuestionText, QuestionRadio, QuestionCheckbox, QuestionDropdown:
		return qt, true
	}
	return "", false
}

// HasOptions reports whether the type is answered by picking from options.
func (q QuestionType) HasOptions() bool {
	return q == QuestionRadio || q == QuestionCheckbox || q == QuestionDropdown
}

// Question is a follow-up the assistant attached to its reply.
type Question struct {
	Type           QuestionType `json:"question_type"`
	Options        []string     `json:"question_options,omitempty"`
	AwaitingAnswer bool         `json:"awaiting_answer"`
}

// Clone returns a deep copy.
func (q Question) Clone() Question {
	q.Options = append([]string(nil), q.Options...)
	return q
}

// FormatAnswer turns selected values into the prompt text sent back.
// Checkbox answers are joined with ", "; other types use the first value.
func FormatAnswer(qt QuestionType, values []string) string {
	var picked []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			picked = append(picked, v)
		}
	}
	if len(picked) == 0 {
		return ""
	}
	if qt == QuestionCheckbox {
		return strings.Join(picked, ", ")
	}
	return picked[0]
}
