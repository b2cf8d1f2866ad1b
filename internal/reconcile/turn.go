// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"sync"

	"github.com/jeranaias/formchat/internal/model"
)

// Outcome is how a turn ended.
type Outcome int

const (
	// OutcomeCompleted means the reply streamed to its end.
	OutcomeCompleted Outcome = iota

	// OutcomeFailed means the reply was finalized with an error notice.
	OutcomeFailed

	// OutcomeCancelled means CancelActive, StartNewSession, LoadHistory or
	// the caller's context stopped the turn.
	OutcomeCancelled

	// OutcomeSuperseded means a newer send replaced the turn.
	OutcomeSuperseded
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Result is the final state of a turn.
type Result struct {
	Outcome Outcome

	// Reply is the assistant message as it was finalized. It is zero when
	// the turn ended before a reply was appended.
	Reply model.Message

	// Err explains a failed, cancelled or superseded turn.
	Err error
}

// Turn is one send: a user prompt and the reply streamed for it.
type Turn struct {
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}

	once   sync.Once
	result Result
}

func newTurn(gen uint64, cancel context.CancelFunc) *Turn {
	return &Turn{
		generation: gen,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Generation returns the stream generation the turn owns.
func (t *Turn) Generation() uint64 {
	return t.generation
}

// Done is closed when the turn has ended.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (t *Turn) Result() Result {
	select {
	case <-t.done:
		return t.result
	default:
		return Result{}
	}
}

// Wait blocks until the turn ends or ctx is done.
func (t *Turn) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (t *Turn) finish(r Result) {
	t.once.Do(func() {
		t.result = r
		t.cancel()
		close(t.done)
	})
}
