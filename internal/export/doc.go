// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders archived transcripts for sharing.
//
// # Key Types
//
//   - Exporter: Renders a transcript in one format
//   - Options: Metadata, timestamps and HTML theme
//
// # Supported Formats
//
//   - Markdown: Human-readable, with YAML front matter
//   - JSON: The transcript as archived
//   - HTML: Self-contained page, replies rendered from Markdown
//
// # Usage
//
//	exp, err := export.ForPath("chat.html", export.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	path, err := export.ToFile(transcript, exp, "chat.html")
package export
