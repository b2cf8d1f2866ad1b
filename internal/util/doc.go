// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across formchat.
//
// # Key Functions
//
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - SingleLine: collapse whitespace for one-line previews
//   - AtomicWriteFile: crash-safe file replacement with fsync
//   - ExpandHome: resolve a leading ~ in configured paths
package util
