// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// =============================================================================
// LOGIN RECORD
// =============================================================================

// Record is the login record written by the sign-in flow.
type Record struct {
	UserID      json.Number `json:"user_id"`
	AccessToken string      `json:"access_token,omitempty"`
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"`
}

// =============================================================================
// FILE PROVIDER
// =============================================================================

// FileProvider serves the identity stored in a login record file. After
// Watch, the record is reloaded whenever the file is written, replaced or
// removed, so signing in or out elsewhere takes effect on the next send.
type FileProvider struct {
	path   string
	logger zerolog.Logger

	mu     sync.RWMutex
	record Record
	found  bool

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// FileOption configures a FileProvider.
type FileOption func(*FileProvider)

// WithFileLogger sets the logger used for reload failures.
func WithFileLogger(logger zerolog.Logger) FileOption {
	return func(p *FileProvider) {
		p.logger = logger
	}
}

// NewFileProvider loads the record at path. A missing file is not an error;
// the provider simply does not resolve until the file appears.
func NewFileProvider(path string, opts ...FileOption) (*FileProvider, error) {
	p := &FileProvider{
		path:   filepath.Clean(path),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the record file.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		p.set(Record{}, false)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read login record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		p.set(Record{}, false)
		return fmt.Errorf("parse login record %s: %w", p.path, err)
	}
	p.set(rec, true)
	return nil
}

func (p *FileProvider) set(rec Record, found bool) {
	p.mu.Lock()
	p.record = rec
	p.found = found
	p.mu.Unlock()
}

// Record returns the current record and whether one was loaded.
func (p *FileProvider) Record() (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.record, p.found
}

// UserID implements Provider.
func (p *FileProvider) UserID() (int64, bool) {
	rec, found := p.Record()
	if !found {
		return 0, false
	}
	if id, ok := parseID(rec.UserID); ok {
		return id, true
	}
	if rec.AccessToken != "" {
		return NewTokenProvider(rec.AccessToken).UserID()
	}
	return 0, false
}

// AccessToken implements TokenSource.
func (p *FileProvider) AccessToken() string {
	rec, _ := p.Record()
	return rec.AccessToken
}

// Watch starts reloading the record when the file changes. The parent
// directory is watched because sign-in flows usually replace the file.
func (p *FileProvider) Watch() error {
	if p.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	p.watcher = w
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})
	go p.processEvents()
	return nil
}

func (p *FileProvider) processEvents() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := p.Reload(); err != nil {
				p.logger.Warn().Err(err).Str("path", p.path).Msg("login record reload failed")
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn().Err(err).Str("path", p.path).Msg("login record watcher error")
		}
	}
}

// Close stops watching. It is safe to call without Watch.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	p.cancel()
	err := p.watcher.Close()
	<-p.done
	p.watcher = nil
	return err
}
