// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"sort"

	"github.com/jeranaias/formchat/internal/model"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Command is a chat slash command.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h", "/?")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/quote <id>")
	Usage string

	// Args defines the expected arguments
	Args []ArgDef

	// Hidden commands don't appear in help
	Hidden bool

	// Category for grouping in help display
	Category string
}

// UsageOrName returns Usage, or Name when the command takes no arguments.
func (c *Command) UsageOrName() string {
	if c.Usage != "" {
		return c.Usage
	}
	return c.Name
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	Name     string
	Required bool
	Type     ArgType

	// Values for enum types
	Values []string

	// ResourceCategory narrows ArgTypeResource completion ("" for all).
	ResourceCategory string
}

// ArgType indicates what kind of completion to provide.
type ArgType int

const (
	ArgTypeString   ArgType = iota // Free-form text
	ArgTypeSession                 // Backend session ID
	ArgTypeFile                    // Local file path
	ArgTypeEnum                    // One of Values
	ArgTypeResource                // Approved library resource ID
	ArgTypeTemplate                // Chat template ID
	ArgTypeAnswer                  // Option of the open question
)

// Help categories, in display order.
const (
	CategoryConversation = "Conversation"
	CategoryAttachments  = "Attachments"
	CategorySessions     = "Sessions"
	CategoryGeneral      = "General"
)

var categoryOrder = []string{CategoryConversation, CategoryAttachments, CategorySessions, CategoryGeneral}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a registry with the built-in chat commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry, replacing one of the same name.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	return r.aliases[name]
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Group is one help section.
type Group struct {
	Category string
	Commands []*Command
}

// Groups returns the visible commands by category in help order, sorted
// by name within a group.
func (r *Registry) Groups() []Group {
	byCat := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		cat := cmd.Category
		if cat == "" {
			cat = CategoryGeneral
		}
		byCat[cat] = append(byCat[cat], cmd)
	}

	var groups []Group
	seen := make(map[string]bool)
	for _, cat := range categoryOrder {
		if cmds := byCat[cat]; len(cmds) > 0 {
			groups = append(groups, Group{Category: cat, Commands: cmds})
		}
		seen[cat] = true
	}
	var rest []string
	for cat := range byCat {
		if !seen[cat] {
			rest = append(rest, cat)
		}
	}
	sort.Strings(rest)
	for _, cat := range rest {
		groups = append(groups, Group{Category: cat, Commands: byCat[cat]})
	}
	return groups
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (r *Registry) registerBuiltins() {
	r.Register(&Command{
		Name:        "/new",
		Aliases:     []string{"/clear"},
		Description: "Start a new conversation",
		Category:    CategoryConversation,
	})
	r.Register(&Command{
		Name:        "/cancel",
		Description: "Stop the reply being received",
		Category:    CategoryConversation,
	})
	r.Register(&Command{
		Name:        "/answer",
		Description: "Answer the assistant's question",
		Usage:       "/answer <choice>",
		Args:        []ArgDef{{Name: "choice", Required: true, Type: ArgTypeAnswer}},
		Category:    CategoryConversation,
	})
	r.Register(&Command{
		Name:        "/save",
		Description: "Archive, or export to .md/.json/.html",
		Usage:       "/save [path]",
		Args:        []ArgDef{{Name: "path", Type: ArgTypeFile}},
		Category:    CategoryConversation,
	})

	r.Register(&Command{
		Name:        "/attach",
		Description: "Attach a local file",
		Usage:       "/attach <path>",
		Args:        []ArgDef{{Name: "path", Required: true, Type: ArgTypeFile}},
		Category:    CategoryAttachments,
	})
	r.Register(&Command{
		Name:        "/resource",
		Description: "Attach a library resource",
		Usage:       "/resource <id>",
		Args:        []ArgDef{{Name: "id", Required: true, Type: ArgTypeResource}},
		Category:    CategoryAttachments,
	})
	r.Register(&Command{
		Name:        "/quote",
		Description: "Attach a quote",
		Usage:       "/quote <id>",
		Args:        []ArgDef{{Name: "id", Required: true, Type: ArgTypeResource, ResourceCategory: model.ResourceCategoryQuotes}},
		Category:    CategoryAttachments,
	})
	r.Register(&Command{
		Name:        "/kb",
		Description: "Attach a knowledge-base document",
		Usage:       "/kb <id>",
		Args:        []ArgDef{{Name: "id", Required: true, Type: ArgTypeResource, ResourceCategory: model.ResourceCategoryKnowledge}},
		Category:    CategoryAttachments,
	})
	r.Register(&Command{
		Name:        "/template",
		Description: "Attach a chat template",
		Usage:       "/template <id>",
		Args:        []ArgDef{{Name: "id", Required: true, Type: ArgTypeTemplate}},
		Category:    CategoryAttachments,
	})
	r.Register(&Command{
		Name:        "/attachments",
		Description: "Show or clear pending attachments",
		Usage:       "/attachments [clear]",
		Args:        []ArgDef{{Name: "action", Type: ArgTypeEnum, Values: []string{"clear"}}},
		Category:    CategoryAttachments,
	})

	r.Register(&Command{
		Name:        "/history",
		Description: "Show this conversation or load a session",
		Usage:       "/history [id]",
		Args:        []ArgDef{{Name: "id", Type: ArgTypeSession}},
		Category:    CategorySessions,
	})
	r.Register(&Command{
		Name:        "/sessions",
		Description: "List your sessions",
		Category:    CategorySessions,
	})

	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?", "/"},
		Description: "Show available commands",
		Category:    CategoryGeneral,
	})
	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "Exit chat",
		Category:    CategoryGeneral,
	})
}
