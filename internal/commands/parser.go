// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"
	"strings"
	"unicode"
)

// =============================================================================
// PARSE RESULT
// =============================================================================

// ParseResult contains the result of parsing user input.
type ParseResult struct {
	// IsCommand is true if the input starts with /
	IsCommand bool

	// Command is the matched command (nil if not found)
	Command *Command

	// CommandName is the typed command name, lowercased
	CommandName string

	// Args are the quote-aware arguments
	Args []string

	// RawArgs is everything after the command name, trimmed
	RawArgs string
}

// =============================================================================
// PARSER
// =============================================================================

// Parser resolves slash commands against a registry.
type Parser struct {
	registry *Registry
}

// NewParser creates a new parser with the given registry.
func NewParser(registry *Registry) *Parser {
	return &Parser{registry: registry}
}

// Parse parses user input. IsCommand is false unless input starts with /.
func (p *Parser) Parse(input string) ParseResult {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return ParseResult{}
	}

	name := input
	if end := strings.IndexFunc(input, unicode.IsSpace); end >= 0 {
		name = input[:end]
	}
	res := ParseResult{
		IsCommand:   true,
		CommandName: strings.ToLower(name),
		RawArgs:     strings.TrimSpace(input[len(name):]),
	}
	res.Args = splitCommandLine(res.RawArgs)
	res.Command = p.registry.Get(res.CommandName)
	return res
}

// splitCommandLine splits a command line into tokens. Single and double
// quotes group words; a backslash inside quotes escapes a quote.
func splitCommandLine(input string) []string {
	var tokens []string
	var current strings.Builder
	var inSingle, inDouble, quoted bool

	flush := func() {
		if current.Len() > 0 || quoted {
			tokens = append(tokens, current.String())
			current.Reset()
		}
		quoted = false
	}

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			quoted = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			quoted = true
		case r == '\\' && (inSingle || inDouble) && i+1 < len(runes) &&
			(runes[i+1] == '"' || runes[i+1] == '\'' || runes[i+1] == '\\'):
			current.WriteRune(runes[i+1])
			i++
		case unicode.IsSpace(r) && !inSingle && !inDouble:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateArgs checks required arguments and enum values.
func ValidateArgs(cmd *Command, args []string) error {
	if cmd == nil {
		return nil
	}
	for i, def := range cmd.Args {
		if i >= len(args) {
			if def.Required {
				return &ArgError{Command: cmd.Name, Arg: def.Name, Message: "required argument missing", Usage: cmd.UsageOrName()}
			}
			continue
		}
		if def.Type == ArgTypeEnum && len(def.Values) > 0 && !containsFold(def.Values, args[i]) {
			return &ArgError{
				Command: cmd.Name,
				Arg:     def.Name,
				Message: fmt.Sprintf("invalid value %q (expected %s)", args[i], strings.Join(def.Values, ", ")),
				Usage:   cmd.UsageOrName(),
			}
		}
	}
	return nil
}

// ArgError is an argument validation failure.
type ArgError struct {
	Command string
	Arg     string
	Message string
	Usage   string
}

func (e *ArgError) Error() string {
	msg := e.Command + ": " + e.Message
	if e.Arg != "" {
		msg += " for argument '" + e.Arg + "'"
	}
	if e.Usage != "" {
		msg += " (usage: " + e.Usage + ")"
	}
	return msg
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
