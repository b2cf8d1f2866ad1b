// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package extract pulls display text out of a reply buffer that may hold a
// partially received JSON object.
//
// Chat backends often wrap the model's answer in an object such as
// {"response": "..."} and stream it a few bytes at a time. DisplayText is
// safe to call on every partial buffer: until the outermost braces enclose
// a complete object it returns the buffer unchanged.
//
// The outermost-brace span is a heuristic. Prose that contains balanced
// braces before the real object will not parse and is shown as raw text.
package extract

import (
	"encoding/json"
	"strings"
)

// Fields lists the object keys searched for display text, in priority order.
var Fields = []string{"response", "message", "answer", "result"}

// DisplayText returns the best human-readable text for raw.
//
// Raw text without both '{' and '}' is returned as is. Otherwise the span
// from the first '{' to the last '}' is parsed; when it is an object the
// first non-empty string among Fields is returned. Every other case,
// including a parse failure, falls back to raw.
func DisplayText(raw string) string {
	if text, ok := FromObject(raw); ok {
		return text
	}
	return raw
}

// FromObject is DisplayText without the fallback: it reports whether a
// priority field was found.
func FromObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return "", false
	}

	for _, key := range Fields {
		field, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(field, &s); err != nil || s == "" {
			continue
		}
		return s, true
	}
	return "", false
}
