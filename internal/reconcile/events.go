// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import "github.com/jeranaias/formchat/internal/model"

// State is the controller's position in the send/stream cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingSession
	StateStreaming
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSession:
		return "awaiting-session"
	case StateStreaming:
		return "streaming"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// EventKind identifies what changed.
type EventKind int

const (
	// EventStateChanged carries the new State.
	EventStateChanged EventKind = iota

	// EventMessageAppended carries a message added to the transcript.
	EventMessageAppended

	// EventChunk carries the streaming reply after new text arrived. At
	// most one is emitted per throttle interval.
	EventChunk

	// EventFinalized carries a reply that stopped streaming, completed or
	// failed or interrupted.
	EventFinalized

	// EventHistoryLoaded is emitted after the transcript was replaced.
	EventHistoryLoaded

	// EventSessionReset is emitted after the session was cleared.
	EventSessionReset
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventMessageAppended:
		return "message-appended"
	case EventChunk:
		return "chunk"
	case EventFinalized:
		return "finalized"
	case EventHistoryLoaded:
		return "history-loaded"
	case EventSessionReset:
		return "session-reset"
	default:
		return "unknown"
	}
}

// Event describes one change of the controller or its transcript.
type Event struct {
	Kind       EventKind
	Generation uint64
	State      State
	Message    model.Message
	Err        error
}

// Observer receives events. Observers run on the goroutine that caused
// the change and must not block.
type Observer func(Event)
