// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is the fallback width when detection fails.
	DefaultTerminalWidth = 80

	// MinTerminalWidth is the narrowest width used for wrapping.
	MinTerminalWidth = 40

	// MaxRenderWidth caps markdown wrapping on wide terminals.
	MaxRenderWidth = 100
)

// IsStdoutTTY reports whether stdout is a terminal. Finished replies are
// rendered as markdown only there.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// GetTerminalWidth returns the stdout width, or DefaultTerminalWidth when
// stdout is not a terminal.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	return max(width, MinTerminalWidth)
}

// GetColorProfile picks the lipgloss color profile. NO_COLOR disables
// color, FORCE_COLOR keeps it on redirected output, and otherwise color
// follows stdout being a terminal.
func GetColorProfile() termenv.Profile {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return termenv.Ascii
	case os.Getenv("FORCE_COLOR") != "":
		if p := termenv.EnvColorProfile(); p != termenv.Ascii {
			return p
		}
		return termenv.ANSI256
	case !IsStdoutTTY():
		return termenv.Ascii
	default:
		return termenv.ColorProfile()
	}
}
