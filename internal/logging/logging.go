// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog loggers shared by formchat's packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Component names used in the "component" field.
const (
	App       = "app"
	Backend   = "backend"
	Reconcile = "reconcile"
	Identity  = "identity"
	Storage   = "storage"
	Server    = "server"
	CLI       = "cli"
)

// Options selects level, format and destination.
type Options struct {
	// Level is "debug", "info", "warn" or "error". Unknown values mean info.
	Level string
	// Format is "console", "json" or "auto". Auto picks console output when
	// the destination is a terminal.
	Format string
	// File appends to this path instead of writing to stderr.
	File string
}

// New returns a root logger and a closer for any file it opened.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	tty := term.IsTerminal(int(os.Stderr.Fd()))

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		out, closer, tty = f, f, false
	}

	return build(out, opts, tty), closer, nil
}

func build(out io.Writer, opts Options, tty bool) zerolog.Logger {
	switch strings.ToLower(opts.Format) {
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: !tty}
	case "json":
	default:
		if tty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	}
	return zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// For returns a child logger tagged with a component name.
func For(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
