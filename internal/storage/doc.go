// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps a local archive of chat transcripts.
//
// The backend owns the authoritative history of a session. The archive is a
// client-side copy written after every finished reply, so a conversation can
// be read back or exported without network access.
//
// # Key Types
//
//   - Store: archive interface implemented by FileStore and SQLiteStore
//   - Transcript: serializable conversation with metadata
//   - TranscriptMeta: lightweight metadata for listing
//   - Archiver: adapts a Store to the reconcile controller
//
// # Usage
//
//	store, err := storage.Open(storage.DriverSQLite, dir, 100)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	metas, err := store.List()
//	t, err := store.Load(metas[0].ID)
//
// # Storage Location
//
// Transcripts are stored under ~/.formchat/transcripts/, one JSON file per
// session for the file driver or a single transcripts.db for SQLite.
package storage
