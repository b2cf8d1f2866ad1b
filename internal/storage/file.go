// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/formchat/internal/util"
)

// DefaultMaxTranscripts bounds the archive when no limit is configured.
const DefaultMaxTranscripts = 100

// FileStore keeps one JSON file per transcript.
type FileStore struct {
	// BaseDir is the directory holding the transcript files.
	BaseDir string

	// MaxTranscripts limits stored transcripts (0 = unlimited).
	MaxTranscripts int

	mu sync.Mutex
}

// NewFileStore creates a store in dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &FileStore{BaseDir: dir, MaxTranscripts: DefaultMaxTranscripts}, nil
}

// Save persists t and returns its ID.
func (s *FileStore) Save(t *Transcript) (string, error) {
	if t.ID == "" {
		t.ID = TranscriptID(t.SessionID)
	}
	if !validID(t.ID) {
		return "", fmt.Errorf("invalid transcript id %q", t.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t.touch(time.Now().UTC())
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	if err := util.AtomicWriteFile(s.filePath(t.ID), data, 0o600); err != nil {
		return "", err
	}

	if s.MaxTranscripts > 0 {
		s.enforceLimitLocked()
	}
	return t.ID, nil
}

// Load retrieves a transcript by ID.
func (s *FileStore) Load(id string) (*Transcript, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", id, err)
	}
	return &t, nil
}

// List returns all saved transcripts, most recent first. Unreadable files
// are skipped.
func (s *FileStore) List() ([]TranscriptMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []TranscriptMeta{}, nil
		}
		return nil, err
	}

	metas := make([]TranscriptMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		t, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		metas = append(metas, t.Meta())
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Delete removes a transcript by ID.
func (s *FileStore) Delete(id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	if err := os.Remove(s.filePath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// enforceLimitLocked removes the oldest transcripts beyond the limit.
func (s *FileStore) enforceLimitLocked() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxTranscripts {
		return
	}
	for _, m := range metas[s.MaxTranscripts:] {
		_ = s.Delete(m.ID)
	}
}

func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// validID rejects IDs that would escape the store directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
