// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id            TEXT PRIMARY KEY,
	session_id    INTEGER NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	preview       TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	body          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_updated ON transcripts(updated_at);
`

// SQLiteStore keeps transcripts in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// MaxTranscripts limits stored transcripts (0 = unlimited).
	MaxTranscripts int
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, MaxTranscripts: DefaultMaxTranscripts}, nil
}

// Save upserts t and returns its ID. The creation time of an existing row
// is kept.
func (s *SQLiteStore) Save(t *Transcript) (string, error) {
	if t.ID == "" {
		t.ID = TranscriptID(t.SessionID)
	}
	t.touch(time.Now().UTC())

	body, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO transcripts (id, session_id, title, summary, preview, message_count, created_at, updated_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			title = excluded.title,
			summary = excluded.summary,
			preview = excluded.preview,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at,
			body = excluded.body`,
		t.ID, t.SessionID, t.Title, t.Summary, t.Preview(), len(t.Messages),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), string(body))
	if err != nil {
		return "", fmt.Errorf("save transcript: %w", err)
	}

	if s.MaxTranscripts > 0 {
		_, err = tx.Exec(`
			DELETE FROM transcripts WHERE id NOT IN (
				SELECT id FROM transcripts ORDER BY updated_at DESC LIMIT ?
			)`, s.MaxTranscripts)
		if err != nil {
			return "", fmt.Errorf("trim transcripts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return t.ID, nil
}

// Load retrieves a transcript by ID.
func (s *SQLiteStore) Load(id string) (*Transcript, error) {
	var body, createdAt string
	err := s.db.QueryRow(`SELECT body, created_at FROM transcripts WHERE id = ?`, id).Scan(&body, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var t Transcript
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", id, err)
	}
	if created, err := parseTime(createdAt); err == nil {
		t.CreatedAt = created
	}
	return &t, nil
}

// List returns all saved transcripts, most recent first.
func (s *SQLiteStore) List() ([]TranscriptMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, title, summary, preview, message_count, created_at, updated_at
		FROM transcripts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metas := []TranscriptMeta{}
	for rows.Next() {
		var m TranscriptMeta
		var createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Title, &m.Summary, &m.Preview, &m.MessageCount, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = parseTime(createdAt)
		m.UpdatedAt, _ = parseTime(updatedAt)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a transcript by ID.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Times are stored as fixed-width UTC text so that they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
