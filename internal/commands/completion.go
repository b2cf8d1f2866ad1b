// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/formchat/internal/attach"
)

// maxFileCompletions caps directory listings.
const maxFileCompletions = 20

// Completion is one completion candidate.
type Completion struct {
	Value       string
	Display     string
	Description string
	Score       int
}

// Item is a dynamic completion value, such as a session or resource ID.
type Item struct {
	Value       string
	Description string
}

// =============================================================================
// COMPLETER
// =============================================================================

// Completer handles tab completion for commands and arguments.
type Completer struct {
	registry *Registry

	// Callbacks for dynamic completion. A nil callback completes nothing.
	SessionsFn  func() []Item
	ResourcesFn func(category string) []Item
	TemplatesFn func() []Item
	AnswersFn   func() []Item
}

// NewCompleter creates a new completer with the given registry.
func NewCompleter(registry *Registry) *Completer {
	return &Completer{registry: registry}
}

// Complete returns completions for input, which ends at the cursor.
func (c *Completer) Complete(input string) []Completion {
	input = strings.TrimLeft(input, " \t")
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	trailingSpace := strings.HasSuffix(input, " ")
	parts := splitCommandLine(input)
	if len(parts) == 0 {
		return c.completeCommands("/")
	}
	if len(parts) == 1 && !trailingSpace {
		return c.completeCommands(parts[0])
	}

	cmd := c.registry.Get(strings.ToLower(parts[0]))
	if cmd == nil {
		return nil
	}
	argIndex := len(parts) - 2
	partial := parts[len(parts)-1]
	if trailingSpace {
		argIndex++
		partial = ""
	}
	return c.completeArg(cmd, argIndex, partial)
}

// Lines adapts Complete to line editors that replace the whole line. Each
// result is line with its last word completed.
func (c *Completer) Lines(line string) []string {
	completions := c.Complete(line)
	if len(completions) == 0 {
		return nil
	}

	head := line
	if !strings.HasSuffix(line, " ") {
		if i := strings.LastIndexAny(line, " \t"); i >= 0 {
			head = line[:i+1]
		} else {
			head = ""
		}
	}

	out := make([]string, 0, len(completions))
	for _, comp := range completions {
		v := head + comp.Value
		if cmd := c.registry.Get(comp.Value); cmd != nil && len(cmd.Args) > 0 && head == "" {
			v += " "
		}
		out = append(out, v)
	}
	return out
}

// =============================================================================
// COMMAND COMPLETION
// =============================================================================

func (c *Completer) completeCommands(partial string) []Completion {
	partial = strings.ToLower(partial)
	var completions []Completion

	for _, cmd := range c.registry.All() {
		if cmd.Hidden {
			continue
		}
		if strings.HasPrefix(cmd.Name, partial) {
			completions = append(completions, Completion{
				Value:       cmd.Name,
				Display:     cmd.Name,
				Description: cmd.Description,
				Score:       calculateScore(cmd.Name, partial),
			})
			continue
		}
		// Aliases only when the partial rules out the primary name.
		if len(partial) < 2 {
			continue
		}
		for _, alias := range cmd.Aliases {
			if strings.HasPrefix(alias, partial) {
				completions = append(completions, Completion{
					Value:       alias,
					Display:     alias + " -> " + cmd.Name,
					Description: cmd.Description,
					Score:       calculateScore(alias, partial) - 10,
				})
			}
		}
	}

	sortCompletions(completions)
	return completions
}

// =============================================================================
// ARGUMENT COMPLETION
// =============================================================================

func (c *Completer) completeArg(cmd *Command, argIndex int, partial string) []Completion {
	if argIndex < 0 || argIndex >= len(cmd.Args) {
		return nil
	}
	arg := cmd.Args[argIndex]

	switch arg.Type {
	case ArgTypeFile:
		return completeFiles(partial)
	case ArgTypeEnum:
		return completeFromList(valuesAsItems(arg.Values), partial)
	case ArgTypeSession:
		return completeFromFn(c.SessionsFn, partial)
	case ArgTypeTemplate:
		return completeFromFn(c.TemplatesFn, partial)
	case ArgTypeAnswer:
		return completeFromFn(c.AnswersFn, partial)
	case ArgTypeResource:
		if c.ResourcesFn == nil {
			return nil
		}
		return completeFromList(c.ResourcesFn(arg.ResourceCategory), partial)
	default:
		return nil
	}
}

func completeFromFn(fn func() []Item, partial string) []Completion {
	if fn == nil {
		return nil
	}
	return completeFromList(fn(), partial)
}

func completeFromList(items []Item, partial string) []Completion {
	partial = strings.ToLower(partial)
	var completions []Completion
	for _, it := range items {
		if !strings.HasPrefix(strings.ToLower(it.Value), partial) {
			continue
		}
		completions = append(completions, Completion{
			Value:       it.Value,
			Display:     it.Value,
			Description: it.Description,
			Score:       calculateScore(it.Value, partial),
		})
	}
	sortCompletions(completions)
	return completions
}

func valuesAsItems(values []string) []Item {
	items := make([]Item, len(values))
	for i, v := range values {
		items[i] = Item{Value: v}
	}
	return items
}

// completeFiles lists entries of partial's directory that start with its
// base name. Hidden entries need a leading dot in partial.
func completeFiles(partial string) []Completion {
	dir, prefix := filepath.Split(partial)
	readDir := dir
	if readDir == "" {
		readDir = "."
	}
	entries, err := os.ReadDir(readDir)
	if err != nil {
		return nil
	}

	lower := strings.ToLower(prefix)
	var completions []Completion
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(strings.ToLower(name), lower) {
			continue
		}
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(prefix, ".") {
			continue
		}

		value := dir + name
		score := calculateScore(name, lower)
		desc := "directory"
		if entry.IsDir() {
			value += string(os.PathSeparator)
			score += 5
		} else if info, err := entry.Info(); err == nil {
			desc = attach.FormatFileSize(info.Size())
		}

		completions = append(completions, Completion{
			Value:       value,
			Display:     name,
			Description: desc,
			Score:       score,
		})
	}

	sortCompletions(completions)
	if len(completions) > maxFileCompletions {
		completions = completions[:maxFileCompletions]
	}
	return completions
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// calculateScore ranks a match. Higher is better; exact matches win and
// shorter values beat longer ones.
func calculateScore(value, partial string) int {
	value = strings.ToLower(value)
	partial = strings.ToLower(partial)

	if value == partial {
		return 200
	}
	score := 100
	if strings.HasPrefix(value, partial) {
		score += 50 + 20 - len(value)
	}
	return score - len(value)/2
}

// sortCompletions sorts by score (descending), then alphabetically.
func sortCompletions(completions []Completion) {
	sort.SliceStable(completions, func(i, j int) bool {
		if completions[i].Score != completions[j].Score {
			return completions[i].Score > completions[j].Score
		}
		return completions[i].Value < completions[j].Value
	})
}
