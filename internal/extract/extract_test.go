// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain prose", "Hello there", "Hello there"},
		{"empty", "", ""},
		{"complete response object", `{"response":"hello"}`, "hello"},
		{"partial object", `{"respo`, `{"respo`},
		{"partial string value", `{"response":"Hi the`, `{"response":"Hi the`},
		{"priority order", `{"result":"r","answer":"a","message":"m","response":"x"}`, "x"},
		{"message field", `{"message":"m","result":"r"}`, "m"},
		{"answer field", `{"answer":"a","result":"r"}`, "a"},
		{"result field", `{"result":"r"}`, "r"},
		{"no priority field", `{"status":"ok"}`, `{"status":"ok"}`},
		{"empty response skipped", `{"response":"","message":"m"}`, "m"},
		{"non-string response skipped", `{"response":{"text":"x"},"answer":"a"}`, "a"},
		{"surrounding prose", `Sure! {"response":"Use glycerin."} Done`, "Use glycerin."},
		{"closing brace only", "a } b", "a } b"},
		{"reversed braces", "} then {", "} then {"},
		{"two objects", `[{"response":"x"}, {"y":1}]`, `[{"response":"x"}, {"y":1}]`},
		{"prose braces", "use {curly} braces", "use {curly} braces"},
		{"escaped text", `{"response":"line1\nline2 \"q\""}`, "line1\nline2 \"q\""},
		{"unicode", `{"response":"pH ≈ 5.5 ✓"}`, "pH ≈ 5.5 ✓"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DisplayText(tc.raw))
		})
	}
}

func TestDisplayText_NoBraceIsIdentity(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"multi\nline text",
		"closing only }",
		`"response":"hello"`,
		strings.Repeat("x", 4096),
	}
	for _, in := range inputs {
		assert.Equal(t, in, DisplayText(in))
	}
}

func TestDisplayText_IncrementalBuffer(t *testing.T) {
	chunks := []string{`{"resp`, `onse":"Hi the`, `re"}`}
	var raw strings.Builder
	var shown []string
	for _, c := range chunks {
		raw.WriteString(c)
		shown = append(shown, DisplayText(raw.String()))
	}

	assert.Equal(t, `{"resp`, shown[0])
	assert.Equal(t, `{"response":"Hi the`, shown[1])
	assert.Equal(t, "Hi there", shown[2])
}

func TestFromObject(t *testing.T) {
	text, ok := FromObject(`{"answer":"42"}`)
	assert.True(t, ok)
	assert.Equal(t, "42", text)

	_, ok = FromObject("no json")
	assert.False(t, ok)
}
