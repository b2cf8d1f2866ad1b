// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser splits command arguments into flags and positionals.
//
// Supported forms:
//
//	--flag value     long flag with a value
//	--flag=value     long flag with equals sign
//	-f value         short flag with a value
//	--flag           boolean flag
//
// A flag named in boolNames never consumes the following argument, so
// "ask --json what is HLB" keeps "what" as a positional.
type ArgParser struct {
	subcommand string
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
	raw        []string
}

// NewArgParser parses raw. boolNames lists flags that take no value.
func NewArgParser(raw []string, boolNames ...string) *ArgParser {
	p := &ArgParser{
		flags:     make(map[string]string),
		boolFlags: make(map[string]bool),
		raw:       raw,
	}
	isBool := make(map[string]bool, len(boolNames))
	for _, n := range boolNames {
		isBool[strings.TrimLeft(n, "-")] = true
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			p.positional = append(p.positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		switch {
		case hasValue && (value == "true" || value == "false"):
			p.boolFlags[name] = value == "true"
		case hasValue:
			p.flags[name] = value
		case !isBool[name] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-"):
			p.flags[name] = raw[i+1]
			i++
		default:
			p.boolFlags[name] = true
		}
	}

	if len(p.positional) > 0 {
		p.subcommand = p.positional[0]
	}
	return p
}

// Subcommand returns the first positional argument.
func (p *ArgParser) Subcommand() string {
	return p.subcommand
}

// Flag returns the value of a string flag, trying each name in turn so a
// long and a short name can be given together.
func (p *ArgParser) Flag(names ...string) string {
	for _, n := range names {
		if v, ok := p.flags[strings.TrimLeft(n, "-")]; ok {
			return v
		}
	}
	return ""
}

// FlagOrDefault returns the flag value or def.
func (p *ArgParser) FlagOrDefault(name, def string) string {
	if v := p.Flag(name); v != "" {
		return v
	}
	return def
}

// FlagInt64 returns a flag as an integer. ok is false when the flag is
// absent.
func (p *ArgParser) FlagInt64(name string) (n int64, ok bool, err error) {
	v := p.Flag(name)
	if v == "" {
		return 0, false, nil
	}
	n, err = strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, true, NewValidationError(name, v, "must be an integer")
	}
	return n, true, nil
}

// BoolFlag reports whether any of the named boolean flags was set.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, n := range names {
		if p.boolFlags[strings.TrimLeft(n, "-")] {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns the positional arguments from index on.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return []string{}
	}
	return p.positional[index:]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// HasFlag reports whether the flag was given in any form.
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, s := p.flags[name]
	_, b := p.boolFlags[name]
	return s || b
}

// Raw returns the original arguments.
func (p *ArgParser) Raw() []string {
	return p.raw
}

// =============================================================================
// HELPERS
// =============================================================================

// ParseID parses a positive identifier such as a session or resource ID.
func ParseID(s, fieldName string) (int64, error) {
	if s == "" {
		return 0, ErrMissingArgument(fieldName, "")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, NewValidationError(fieldName, s, "must be a number")
	}
	if id <= 0 {
		return 0, NewValidationError(fieldName, s, fmt.Sprintf("must be positive, got %d", id))
	}
	return id, nil
}

// JoinPositionalArgs joins positionals from startIndex into one string.
func JoinPositionalArgs(p *ArgParser, startIndex int) string {
	return strings.Join(p.PositionalFrom(startIndex), " ")
}
