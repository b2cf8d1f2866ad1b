// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jeranaias/formchat/internal/session"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

// Open returns the store for driver rooted at dir. DriverNone returns a
// nil store and no error.
func Open(driver, dir string, maxTranscripts int) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverFile, "":
		store, err := NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		store.MaxTranscripts = maxTranscripts
		return store, nil
	case DriverSQLite:
		ss, err := NewSQLiteStore(filepath.Join(dir, "transcripts.db"))
		if err != nil {
			return nil, err
		}
		ss.MaxTranscripts = maxTranscripts
		return ss, nil
	case DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Archiver saves session snapshots into a Store.
type Archiver struct {
	Store Store
}

// NewArchiver returns an archiver writing to store.
func NewArchiver(store Store) *Archiver {
	return &Archiver{Store: store}
}

// Archive saves snap unless it has no session yet.
func (a *Archiver) Archive(snap session.Snapshot) error {
	if a == nil || a.Store == nil || snap.SessionID == 0 {
		return nil
	}
	_, err := a.Store.Save(FromSnapshot(snap))
	return err
}
