// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal contains race detection tests that drive several
// formchat packages together.
//
// Run with: go test -race -v ./internal/...
package internal

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/formchat/internal/attach"
	"github.com/jeranaias/formchat/internal/backend"
	"github.com/jeranaias/formchat/internal/identity"
	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/reconcile"
	"github.com/jeranaias/formchat/internal/server"
	"github.com/jeranaias/formchat/internal/session"
	"github.com/jeranaias/formchat/internal/storage"
)

const (
	// Number of concurrent goroutines for race tests
	raceConcurrency = 20
	// Number of iterations per goroutine
	raceIterations = 25
	// Timeout for race tests
	raceTimeout = 30 * time.Second
)

func newDevBackend(t *testing.T, chunkSize int, delay time.Duration) *backend.Client {
	t.Helper()
	srv := server.NewServer("").WithChunking(chunkSize, delay)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return backend.New(ts.URL)
}

// =============================================================================
// CONTROLLER CONCURRENCY TESTS
// =============================================================================

// TestConcurrency_SupersedingSends fires sends from many goroutines while
// readers poll the transcript. The newest turn completes and no reply is
// left streaming.
func TestConcurrency_SupersedingSends(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	store, err := storage.NewSQLiteStore(t.TempDir() + "/transcripts.db")
	require.NoError(t, err)
	defer store.Close()

	client := newDevBackend(t, 4, time.Millisecond)
	ctrl := reconcile.New(reconcile.HTTPBackend(client), identity.Static(7),
		reconcile.WithThrottle(0),
		reconcile.WithArchiver(storage.NewArchiver(store)))

	// Create the session up front.
	first, err := ctrl.SendMessage(ctx, "first", attach.Selection{})
	require.NoError(t, err)
	res, err := first.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeCompleted, res.Outcome)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = ctrl.Messages()
				_ = ctrl.Snapshot()
				_ = ctrl.State()
				_, _ = ctrl.SessionID()
			}
		}()
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		turns []*reconcile.Turn
		texts = make(map[*reconcile.Turn]string)
	)
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			text := fmt.Sprintf("message %d", idx)
			turn, err := ctrl.SendMessage(ctx, text, attach.Selection{})
			if err != nil {
				t.Errorf("send %d: %v", idx, err)
				return
			}
			mu.Lock()
			turns = append(turns, turn)
			texts[turn] = text
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	var newest *reconcile.Turn
	for _, turn := range turns {
		if _, err := turn.Wait(ctx); err != nil {
			t.Fatalf("turn %d: %v", turn.Generation(), err)
		}
		if newest == nil || turn.Generation() > newest.Generation() {
			newest = turn
		}
	}
	close(stop)
	readers.Wait()

	require.NotNil(t, newest)
	assert.Equal(t, reconcile.OutcomeCompleted, newest.Result().Outcome)
	for _, turn := range turns {
		switch out := turn.Result().Outcome; out {
		case reconcile.OutcomeCompleted, reconcile.OutcomeSuperseded:
		default:
			t.Errorf("turn %d: unexpected outcome %v", turn.Generation(), out)
		}
	}

	// Superseded turns may end before their exchange is appended, so only
	// the newest prompt is certain to be last.
	msgs := ctrl.Messages()
	for _, m := range msgs {
		assert.False(t, m.IsStreaming, "message %s still streaming", m.ID)
	}
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, texts[newest], msgs[len(msgs)-2].Prompt)
	assert.Equal(t, model.RoleAssistant, msgs[len(msgs)-1].Role)
	assert.False(t, msgs[len(msgs)-1].Interrupted)

	id, ok := ctrl.SessionID()
	require.True(t, ok)
	_, err = store.Load(storage.TranscriptID(id))
	assert.NoError(t, err)
}

// TestConcurrency_ParallelControllers runs one controller per goroutine
// against a shared backend client.
func TestConcurrency_ParallelControllers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	client := newDevBackend(t, 8, 0)
	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ctrl := reconcile.New(reconcile.HTTPBackend(client), identity.Static(idx+1), reconcile.WithThrottle(0))
			for j := 0; j < 3; j++ {
				turn, err := ctrl.SendMessage(ctx, fmt.Sprintf("user %d message %d", idx, j), attach.Selection{})
				if err != nil {
					t.Errorf("send: %v", err)
					return
				}
				res, err := turn.Wait(ctx)
				if err != nil || res.Outcome != reconcile.OutcomeCompleted {
					t.Errorf("user %d turn %d: outcome %v err %v", idx, j, res.Outcome, err)
					return
				}
			}
			if got := len(ctrl.Messages()); got != 6 {
				t.Errorf("user %d: %d messages, want 6", idx, got)
			}
		}(i)
	}
	wg.Wait()

	sessions, err := client.ListSessions(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

// =============================================================================
// STORAGE CONCURRENCY TESTS
// =============================================================================

// TestConcurrency_ArchiveStores saves, lists and loads transcripts from many
// goroutines on both drivers.
func TestConcurrency_ArchiveStores(t *testing.T) {
	for _, driver := range []string{storage.DriverFile, storage.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			store, err := storage.Open(driver, t.TempDir(), 0)
			require.NoError(t, err)
			defer store.Close()

			var wg sync.WaitGroup
			for i := 0; i < raceConcurrency; i++ {
				wg.Add(1)
				go func(idx int) {
					defer wg.Done()
					sessionID := int64(idx%5 + 1)
					for j := 0; j < raceIterations; j++ {
						snap := session.Snapshot{
							SessionID: sessionID,
							Title:     "Batch notes",
							Messages:  []model.Message{*model.NewUserMessage(fmt.Sprintf("note %d/%d", idx, j), nil)},
						}
						if _, err := store.Save(storage.FromSnapshot(snap)); err != nil {
							t.Errorf("save: %v", err)
							return
						}
						if _, err := store.List(); err != nil {
							t.Errorf("list: %v", err)
							return
						}
						if _, err := store.Load(storage.TranscriptID(sessionID)); err != nil {
							t.Errorf("load: %v", err)
							return
						}
					}
				}(i)
			}
			wg.Wait()

			metas, err := store.List()
			require.NoError(t, err)
			assert.Len(t, metas, 5)
		})
	}
}

// =============================================================================
// IDENTITY CONCURRENCY TESTS
// =============================================================================

// TestConcurrency_IdentityChain reads a static chain from many goroutines.
func TestConcurrency_IdentityChain(t *testing.T) {
	chain := identity.Chain{identity.Static(0), identity.Static(42)}

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				if id, ok := chain.UserID(); !ok || id != 42 {
					t.Errorf("UserID() = %d, %v", id, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
}
