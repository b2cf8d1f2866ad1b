// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for formchat.
//
// The interactive chat and the one-shot ask command both drive a
// reconcile.Controller and print its events as the reply streams. The
// remaining commands are thin views over the backend client, the local
// transcript archive and the configuration file.
//
// # Usage
//
//	os.Exit(cli.Run(ctx, os.Args[1:]))
//
// # Commands Overview
//
//   - chat: Interactive chat (default)
//   - ask: Single question
//   - sessions: List, show or delete backend sessions
//   - templates, resources: Browse the attachable catalog
//   - archive: Browse locally archived transcripts
//   - config: Inspect and edit the configuration file
//   - version: Build information
//
// All listing commands support --json.
package cli
