// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile drives a chat conversation: it sends prompts, consumes
// the streamed replies and folds them into the session state.
//
// Every send gets a new generation number. Starting a send, cancelling, or
// replacing the session bumps the generation and tears down the previous
// stream, so there is at most one live stream per Controller and events of
// an older generation never reach the transcript.
//
// Chunks are accumulated and run through the display extractor as they
// arrive. Only the EventChunk notification is rate limited.
//
// # Usage
//
//	ctrl := reconcile.New(reconcile.HTTPBackend(client), ident,
//	    reconcile.WithLogger(logger))
//	ctrl.Subscribe(func(ev reconcile.Event) { render(ev) })
//	turn, err := ctrl.SendMessage(ctx, "Suggest a preservative", attach.Selection{})
//	if err != nil {
//	    return err
//	}
//	<-turn.Done()
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/formchat/internal/attach"
	"github.com/jeranaias/formchat/internal/backend"
	"github.com/jeranaias/formchat/internal/extract"
	"github.com/jeranaias/formchat/internal/identity"
	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/session"
)

// DefaultThrottle is the minimum spacing of EventChunk notifications.
const DefaultThrottle = 50 * time.Millisecond

// User-visible texts of failed replies.
const (
	ReplyFailed          = "Error: Failed to get response from AI service."
	ReplyUnauthenticated = "Error: User not authenticated. Please log in again."
)

var (
	// ErrEmptyMessage is returned when the prompt is blank.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNotAuthenticated marks a turn stopped because no user resolved.
	ErrNotAuthenticated = errors.New("user not authenticated")

	// ErrServiceReported marks a turn ended by an error event.
	ErrServiceReported = errors.New("AI service reported an error")

	// ErrCancelled marks a turn stopped by cancellation.
	ErrCancelled = errors.New("turn cancelled")

	// ErrSuperseded marks a turn replaced by a newer send.
	ErrSuperseded = errors.New("turn superseded")

	// ErrNoQuestion is returned by AnswerQuestion when nothing is asked.
	ErrNoQuestion = errors.New("no question awaiting an answer")
)

// Archiver stores a copy of the conversation after each finished reply.
type Archiver interface {
	Archive(snap session.Snapshot) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithThrottle sets the minimum spacing of chunk notifications. Zero
// disables throttling.
func WithThrottle(d time.Duration) Option {
	return func(c *Controller) {
		c.throttle = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithArchiver stores the conversation after every finished reply.
func WithArchiver(a Archiver) Option {
	return func(c *Controller) {
		c.archiver = a
	}
}

// WithSessionTitle sets the title of lazily created sessions.
func WithSessionTitle(title string) Option {
	return func(c *Controller) {
		if title = strings.TrimSpace(title); title != "" {
			c.title = title
		}
	}
}

// WithState uses st instead of a fresh session state.
func WithState(st *session.State) Option {
	return func(c *Controller) {
		c.state = st
	}
}

// Controller orchestrates sends and reply streams for one conversation.
// It is safe for concurrent use.
type Controller struct {
	backend  Backend
	ident    identity.Provider
	state    *session.State
	logger   zerolog.Logger
	throttle time.Duration
	title    string
	archiver Archiver

	mu     sync.Mutex
	gen    uint64
	active *Turn
	status State

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// New creates a controller. A nil identity provider never resolves.
func New(b Backend, ident identity.Provider, opts ...Option) *Controller {
	if ident == nil {
		ident = identity.Anonymous
	}
	c := &Controller{
		backend:   b,
		ident:     ident,
		state:     session.NewState(),
		logger:    zerolog.Nop(),
		throttle:  DefaultThrottle,
		title:     model.DefaultSessionTitle,
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// OBSERVERS
// =============================================================================

// Subscribe registers an observer and returns a function removing it.
func (c *Controller) Subscribe(o Observer) (unsubscribe func()) {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = o
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Controller) emit(ev Event) {
	c.obsMu.RLock()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.obsMu.RUnlock()

	for _, o := range observers {
		o(ev)
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []model.Message {
	return c.state.Messages()
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() session.Snapshot {
	return c.state.Snapshot()
}

// SessionID returns the current session ID, if any.
func (c *Controller) SessionID() (int64, bool) {
	return c.state.SessionID()
}

// Generation returns the current generation number.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// isCurrent reports whether gen is still the live generation.
func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// setStatus changes the state on behalf of gen, ignoring stale callers.
func (c *Controller) setStatus(gen uint64, s State) {
	c.mu.Lock()
	if c.gen != gen || c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.emit(Event{Kind: EventStateChanged, Generation: gen, State: s})
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage starts a turn for text with the selected attachments. Any
// turn still running is cancelled first. The reply is received in the
// background; the returned Turn reports when it ends. Cancelling ctx
// cancels the turn.
func (c *Controller) SendMessage(ctx context.Context, text string, sel attach.Selection) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	attachments := attach.Build(sel)

	turnCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	prev := c.stopActiveLocked()
	c.gen++
	gen := c.gen
	turn := newTurn(gen, cancel)
	c.active = turn
	c.mu.Unlock()

	if prev != nil {
		c.finishInterrupted(prev, OutcomeSuperseded, ErrSuperseded)
	}

	c.logger.Debug().
		Uint64("generation", gen).
		Int("attachments", len(attachments)).
		Msg("sending message")

	userID, ok := c.ident.UserID()
	if !ok {
		c.logger.Warn().Uint64("generation", gen).Msg("no signed-in user, message not sent")
		c.failWithoutNetwork(turn, text, attachments, ReplyUnauthenticated, ErrNotAuthenticated)
		return turn, nil
	}

	go c.run(turnCtx, turn, text, attachments, userID)
	return turn, nil
}

// AnswerQuestion replies to the last assistant question with the picked
// values.
func (c *Controller) AnswerQuestion(ctx context.Context, values []string) (*Turn, error) {
	msgs := c.state.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if !m.IsAssistant() {
			continue
		}
		if m.Question == nil || !m.Question.AwaitingAnswer {
			break
		}
		answer := model.FormatAnswer(m.Question.Type, values)
		if answer == "" {
			return nil, ErrEmptyMessage
		}
		return c.SendMessage(ctx, answer, attach.Selection{})
	}
	return nil, ErrNoQuestion
}

// stopActiveLocked cancels the running turn's context and returns it.
func (c *Controller) stopActiveLocked() *Turn {
	prev := c.active
	c.active = nil
	if prev != nil {
		prev.cancel()
	}
	return prev
}

// finishInterrupted marks prev's reply as interrupted and ends the turn.
func (c *Controller) finishInterrupted(prev *Turn, outcome Outcome, err error) {
	reply, ok := c.state.InterruptPending(prev.generation)
	if ok {
		c.emit(Event{Kind: EventFinalized, Generation: prev.generation, Message: reply, Err: err})
	}
	prev.finish(Result{Outcome: outcome, Reply: reply, Err: err})
}

// failWithoutNetwork records the prompt and an error reply for a turn that
// never reached the backend.
func (c *Controller) failWithoutNetwork(turn *Turn, text string, attachments []model.Attachment, notice string, cause error) {
	gen := turn.generation
	if !c.appendExchange(gen, text, attachments) {
		turn.finish(Result{Outcome: OutcomeSuperseded, Err: ErrSuperseded})
		return
	}
	c.finalize(turn, session.Final{Text: notice, Failed: true}, cause)
}

// appendExchange adds the prompt and the streaming placeholder if gen is
// still live. The check and both appends happen under the controller lock,
// so a concurrent send cannot slip between them.
func (c *Controller) appendExchange(gen uint64, text string, attachments []model.Attachment) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	user := c.state.AppendUserMessage(text, attachments)
	reply := c.state.AppendPendingAssistantMessage(gen)
	c.status = StateStreaming
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessageAppended, Generation: gen, Message: user})
	c.emit(Event{Kind: EventMessageAppended, Generation: gen, Message: reply})
	c.emit(Event{Kind: EventStateChanged, Generation: gen, State: StateStreaming})
	return true
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

func (c *Controller) run(ctx context.Context, turn *Turn, text string, attachments []model.Attachment, userID int64) {
	gen := turn.generation

	sessionID, ok := c.state.SessionID()
	if !ok {
		c.setStatus(gen, StateAwaitingSession)
		id, err := c.state.EnsureSession(ctx, c.backend, c.title, userID)
		if err != nil {
			if c.abandoned(ctx, turn) {
				return
			}
			c.logger.Error().Err(err).Uint64("generation", gen).Msg("session creation failed")
			c.failWithoutNetwork(turn, text, attachments, replyFor(err), err)
			return
		}
		sessionID = id
	}

	if c.abandoned(ctx, turn) {
		return
	}
	if !c.appendExchange(gen, text, attachments) {
		turn.finish(Result{Outcome: OutcomeSuperseded, Err: ErrSuperseded})
		return
	}

	req := backend.StreamRequest{
		SessionID:      sessionID,
		Message:        text,
		UserID:         userID,
		ConversationID: c.state.ConversationID(),
		Attachments:    attachments,
	}
	stream, err := c.backend.StreamMessage(ctx, req)
	if err != nil {
		if c.abandoned(ctx, turn) {
			return
		}
		c.logger.Error().Err(err).Uint64("generation", gen).Msg("opening reply stream failed")
		c.finalize(turn, session.Final{Text: replyFor(err), Failed: true}, err)
		return
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	c.consume(ctx, turn, stream)
}

// consume folds the stream into the pending reply until it ends.
func (c *Controller) consume(ctx context.Context, turn *Turn, stream EventStream) {
	gen := turn.generation
	notify := &rate.Sometimes{Interval: c.throttle}
	var raw strings.Builder

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			if c.abandoned(ctx, turn) {
				return
			}
			c.logger.Warn().Uint64("generation", gen).Msg("reply stream ended without done event")
			text := raw.String()
			c.finalize(turn, session.Final{Text: extract.DisplayText(text), Raw: text}, nil)
			return
		}
		if err != nil {
			if c.abandoned(ctx, turn) {
				return
			}
			c.logger.Error().Err(err).Uint64("generation", gen).Msg("reply stream failed")
			c.finalize(turn, session.Final{Text: ReplyFailed, Raw: raw.String(), Failed: true}, err)
			return
		}

		if ev.HasChunk() {
			raw.WriteString(ev.Chunk)
			text := raw.String()
			if !c.state.ApplyStreamChunk(gen, text, extract.DisplayText(text)) {
				c.abandonStale(turn)
				return
			}
			if c.throttle > 0 {
				notify.Do(func() { c.emitChunk(gen) })
			} else {
				c.emitChunk(gen)
			}
		}

		switch {
		case ev.Error:
			c.logger.Error().
				Str("message", ev.ErrorMessage).
				Uint64("generation", gen).
				Msg("AI service reported an error")
			cause := ErrServiceReported
			if ev.ErrorMessage != "" {
				cause = fmt.Errorf("%w: %s", ErrServiceReported, ev.ErrorMessage)
			}
			c.finalize(turn, session.Final{Text: ReplyFailed, Raw: raw.String(), Failed: true}, cause)
			return

		case ev.Done:
			text := raw.String()
			if ev.FullResponse != "" {
				text = ev.FullResponse
			}
			c.finalize(turn, session.Final{
				Text:           extract.DisplayText(text),
				Raw:            text,
				InteractionID:  ev.InteractionID,
				ConversationID: ev.ConversationID,
				Question:       ev.Question(),
			}, nil)
			return
		}
	}
}

func (c *Controller) emitChunk(gen uint64) {
	if reply, ok := c.state.Pending(gen); ok {
		c.emit(Event{Kind: EventChunk, Generation: gen, Message: reply})
	}
}

// finalize writes the outcome into the reply owned by turn.
func (c *Controller) finalize(turn *Turn, final session.Final, cause error) {
	gen := turn.generation
	reply, ok := c.state.FinalizeAssistantMessage(gen, final)
	if !ok {
		c.abandonStale(turn)
		return
	}

	c.emit(Event{Kind: EventFinalized, Generation: gen, Message: reply, Err: cause})

	outcome := OutcomeCompleted
	if final.Failed {
		outcome = OutcomeFailed
		c.setStatus(gen, StateErrored)
	}
	c.setStatus(gen, StateIdle)

	c.mu.Lock()
	if c.active == turn {
		c.active = nil
	}
	c.mu.Unlock()

	c.archive(gen)
	c.logger.Debug().
		Uint64("generation", gen).
		Str("outcome", outcome.String()).
		Int64("interaction_id", final.InteractionID).
		Msg("reply finalized")

	turn.finish(Result{Outcome: outcome, Reply: reply, Err: cause})
}

func (c *Controller) archive(gen uint64) {
	if c.archiver == nil {
		return
	}
	snap := c.state.Snapshot()
	if snap.SessionID == 0 {
		return
	}
	if err := c.archiver.Archive(snap); err != nil {
		c.logger.Warn().Err(err).Uint64("generation", gen).Msg("archiving transcript failed")
	}
}

// abandoned ends the turn if it was cancelled or superseded, reporting
// whether it did.
func (c *Controller) abandoned(ctx context.Context, turn *Turn) bool {
	if !c.isCurrent(turn.generation) {
		c.abandonStale(turn)
		return true
	}
	if ctx.Err() != nil {
		c.cancelTurn(turn)
		return true
	}
	return false
}

// abandonStale ends a turn whose generation is no longer live. Whoever
// bumped the generation already handled the transcript.
func (c *Controller) abandonStale(turn *Turn) {
	turn.finish(Result{Outcome: OutcomeSuperseded, Err: ErrSuperseded})
}

// cancelTurn handles a turn whose own context ended.
func (c *Controller) cancelTurn(turn *Turn) {
	c.mu.Lock()
	if c.active != turn {
		c.mu.Unlock()
		c.abandonStale(turn)
		return
	}
	c.active = nil
	c.gen++
	c.status = StateIdle
	c.mu.Unlock()

	c.finishInterrupted(turn, OutcomeCancelled, ErrCancelled)
	c.emit(Event{Kind: EventStateChanged, Generation: turn.generation, State: StateIdle})
}

// =============================================================================
// CANCELLATION AND REPLACEMENT
// =============================================================================

// CancelActive stops the running turn, if any. Its reply keeps the text
// received so far. It reports whether a turn was running.
func (c *Controller) CancelActive() bool {
	c.mu.Lock()
	prev := c.stopActiveLocked()
	c.gen++
	changed := c.status != StateIdle
	c.status = StateIdle
	gen := c.gen
	c.mu.Unlock()

	if prev != nil {
		c.finishInterrupted(prev, OutcomeCancelled, ErrCancelled)
		c.logger.Debug().Uint64("generation", prev.generation).Msg("turn cancelled")
	}
	if changed {
		c.emit(Event{Kind: EventStateChanged, Generation: gen, State: StateIdle})
	}
	return prev != nil
}

// StartNewSession cancels any running turn and forgets the session. The
// next send creates a new one.
func (c *Controller) StartNewSession() {
	c.CancelActive()
	c.state.Reset()
	c.emit(Event{Kind: EventSessionReset, Generation: c.Generation()})
}

// LoadHistory cancels any running turn and replaces the transcript with
// the stored interactions of sessionID.
func (c *Controller) LoadHistory(ctx context.Context, sessionID int64) error {
	c.CancelActive()
	if err := c.state.LoadHistory(ctx, c.backend, sessionID); err != nil {
		return err
	}
	c.emit(Event{Kind: EventHistoryLoaded, Generation: c.Generation()})
	return nil
}

// replyFor picks the notice shown for a transport failure.
func replyFor(err error) string {
	if backend.IsUnauthorized(err) {
		return ReplyUnauthenticated
	}
	return ReplyFailed
}
