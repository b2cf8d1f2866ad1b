// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetByNameAndAlias(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		input string
		want  string
	}{
		{"/help", "/help"},
		{"/?", "/help"},
		{"/", "/help"},
		{"/exit", "/quit"},
		{"/clear", "/new"},
		{"/kb", "/kb"},
	}
	for _, tt := range tests {
		cmd := r.Get(tt.input)
		require.NotNil(t, cmd, tt.input)
		assert.Equal(t, tt.want, cmd.Name)
	}
	assert.Nil(t, r.Get("/model"))
}

func TestRegistry_Groups(t *testing.T) {
	r := NewRegistry()
	r.Register(&Command{Name: "/debug", Hidden: true})
	r.Register(&Command{Name: "/zz", Category: "Extra"})

	groups := r.Groups()
	var cats []string
	for _, g := range groups {
		cats = append(cats, g.Category)
		for _, cmd := range g.Commands {
			assert.NotEqual(t, "/debug", cmd.Name)
		}
	}
	assert.Equal(t, []string{CategoryConversation, CategoryAttachments, CategorySessions, CategoryGeneral, "Extra"}, cats)
	assert.Equal(t, "/answer", groups[0].Commands[0].Name)
}

func TestParser_Parse(t *testing.T) {
	p := NewParser(NewRegistry())

	res := p.Parse("hello there")
	assert.False(t, res.IsCommand)

	res = p.Parse("  /ATTACH  notes/my file.txt ")
	require.True(t, res.IsCommand)
	require.NotNil(t, res.Command)
	assert.Equal(t, "/attach", res.Command.Name)
	assert.Equal(t, "notes/my file.txt", res.RawArgs)
	assert.Equal(t, []string{"notes/my", "file.txt"}, res.Args)

	res = p.Parse(`/answer "a b" 'c\'d' ""`)
	assert.Equal(t, []string{"a b", "c'd", ""}, res.Args)

	res = p.Parse("/nope 1")
	assert.True(t, res.IsCommand)
	assert.Nil(t, res.Command)
	assert.Equal(t, "/nope", res.CommandName)
}

func TestValidateArgs(t *testing.T) {
	r := NewRegistry()

	assert.NoError(t, ValidateArgs(r.Get("/attachments"), nil))
	assert.NoError(t, ValidateArgs(r.Get("/attachments"), []string{"CLEAR"}))
	assert.NoError(t, ValidateArgs(nil, nil))

	err := ValidateArgs(r.Get("/attachments"), []string{"wipe"})
	var argErr *ArgError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "action", argErr.Arg)

	err = ValidateArgs(r.Get("/quote"), nil)
	require.ErrorAs(t, err, &argErr)
	assert.Contains(t, err.Error(), "required argument missing")
	assert.Contains(t, err.Error(), "/quote <id>")
}

func TestCompleter_Commands(t *testing.T) {
	c := NewCompleter(NewRegistry())

	comps := c.Complete("/")
	assert.Len(t, comps, len(NewRegistry().All()))

	comps = c.Complete("/an")
	require.Len(t, comps, 1)
	assert.Equal(t, "/answer", comps[0].Value)

	comps = c.Complete("/ex")
	require.Len(t, comps, 1)
	assert.Equal(t, "/exit", comps[0].Value)
	assert.Equal(t, "/exit -> /quit", comps[0].Display)

	assert.Empty(t, c.Complete("/xyz"))
	assert.Empty(t, c.Complete("plain text"))
}

func TestCompleter_Arguments(t *testing.T) {
	c := NewCompleter(NewRegistry())
	var gotCategory string
	c.ResourcesFn = func(category string) []Item {
		gotCategory = category
		return []Item{{Value: "12", Description: "Shea butter"}, {Value: "3", Description: "Rose water"}}
	}
	c.SessionsFn = func() []Item { return []Item{{Value: "41"}, {Value: "42"}} }
	c.AnswersFn = func() []Item { return []Item{{Value: "1", Description: "Dry"}, {Value: "2", Description: "Oily"}} }

	comps := c.Complete("/quote ")
	assert.Len(t, comps, 2)
	assert.Equal(t, "quotes", gotCategory)

	comps = c.Complete("/resource 1")
	require.Len(t, comps, 1)
	assert.Equal(t, "12", comps[0].Value)
	assert.Equal(t, "", gotCategory)

	comps = c.Complete("/history 4")
	assert.Len(t, comps, 2)

	comps = c.Complete("/answer 2")
	require.Len(t, comps, 1)
	assert.Equal(t, "Oily", comps[0].Description)

	comps = c.Complete("/attachments c")
	require.Len(t, comps, 1)
	assert.Equal(t, "clear", comps[0].Value)

	// No callback, no completions.
	assert.Empty(t, c.Complete("/template "))
	// Past the last argument.
	assert.Empty(t, c.Complete("/history 41 "))
}

func TestCompleter_Files(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))

	c := NewCompleter(NewRegistry())
	prefix := dir + string(os.PathSeparator)

	comps := c.Complete("/attach " + prefix + "n")
	require.Len(t, comps, 2)
	// Directories rank first.
	assert.Equal(t, prefix+"nested"+string(os.PathSeparator), comps[0].Value)
	assert.Equal(t, prefix+"notes.txt", comps[1].Value)
	assert.Equal(t, "2 Bytes", comps[1].Description)

	comps = c.Complete("/attach " + prefix + ".")
	require.Len(t, comps, 1)
	assert.Equal(t, prefix+".hidden", comps[0].Value)
}

func TestCompleter_Lines(t *testing.T) {
	c := NewCompleter(NewRegistry())
	c.AnswersFn = func() []Item { return []Item{{Value: "1"}, {Value: "2"}} }

	assert.Equal(t, []string{"/answer "}, c.Lines("/ans"))
	assert.Equal(t, []string{"/sessions"}, c.Lines("/sess"))
	assert.Equal(t, []string{"/answer 1", "/answer 2"}, c.Lines("/answer "))
	assert.Nil(t, c.Lines("hello"))
}
