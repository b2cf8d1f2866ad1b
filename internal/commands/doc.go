// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands describes the chat slash commands.
//
// The registry knows every command, its aliases and its arguments. The cli
// package dispatches on Command.Name and uses the Completer for tab
// completion at the chat prompt.
//
// # Key Types
//
//   - Registry: Built-in chat commands keyed by name and alias
//   - ParseResult: Parsed command line with name and arguments
//   - Completer: Tab completion for command names and arguments
//
// # Usage
//
//	reg := commands.NewRegistry()
//	res := commands.NewParser(reg).Parse("/quote 12")
//	if res.Command != nil {
//	    // dispatch on res.Command.Name
//	}
//
//	c := commands.NewCompleter(reg)
//	c.Lines("/ans") // ["/answer "]
package commands
