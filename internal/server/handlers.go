// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/formchat/internal/backend"
	"github.com/jeranaias/formchat/internal/model"
)

// ============================================================================
// RESPONDER
// ============================================================================

// Reply is a generated answer.
type Reply struct {
	Text     string
	Question *model.Question
}

// Responder produces the reply to a prompt. A returned error is streamed
// to the client as an error event.
type Responder func(ctx context.Context, req backend.StreamRequest) (Reply, error)

// EchoResponder restates the prompt and lists the attachments it received.
func EchoResponder(_ context.Context, req backend.StreamRequest) (Reply, error) {
	var sb strings.Builder
	sb.WriteString("You asked: ")
	sb.WriteString(req.Message)
	if len(req.Attachments) > 0 {
		sb.WriteString("\n\nAttachments received:")
		for _, a := range req.Attachments {
			sb.WriteString("\n- " + a.DisplayName)
			if a.SizeLabel != "" {
				sb.WriteString(" (" + a.SizeLabel + ")")
			}
		}
	}
	return Reply{Text: sb.String()}, nil
}

// ============================================================================
// SESSIONS
// ============================================================================

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     string `json:"session_title"`
		UserID    int64  `json:"user_id"`
		FormulaID int64  `json:"linked_formula_id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = model.DefaultSessionTitle
	}

	info, err := s.store.createSession(title, req.UserID, req.FormulaID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.stats.sessionsCreated.Add(1)
	writeData(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = id
	}
	status := model.SessionStatus(r.URL.Query().Get("status"))
	writeData(w, http.StatusOK, s.store.listSessions(userID, status))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	summary, convID, interactions, err := s.store.session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if interactions == nil {
		interactions = []model.Interaction{}
	}
	writeData(w, http.StatusOK, struct {
		model.SessionSummary
		ConversationID string              `json:"conversation_id,omitempty"`
		Messages       []model.Interaction `json:"messages"`
	}{summary, convID, interactions})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	if err := s.store.deleteSession(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "session deleted"})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return id, true
}

// ============================================================================
// CATALOG
// ============================================================================

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.store.listTemplates())
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.store.listResources(r.URL.Query().Get("category")))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.stats.snapshot()
	writeData(w, http.StatusOK, struct {
		Stats
		Uptime string `json:"uptime"`
	}{st, time.Since(st.StartTime).Truncate(time.Second).String()})
}

// ============================================================================
// STREAMING
// ============================================================================

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req backend.StreamRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Message == "":
		writeError(w, http.StatusBadRequest, "message is required")
		return
	case utf8.RuneCountInString(req.Message) > MaxMessageLength:
		writeError(w, http.StatusRequestEntityTooLarge, "message too long")
		return
	case req.UserID <= 0:
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	case !s.store.hasSession(req.SessionID):
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s.mu.RLock()
	responder, size, delay, logger := s.responder, s.chunkSize, s.chunkDelay, s.logger
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.stats.streamsStarted.Add(1)
	ctx := r.Context()

	reply, err := responder(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Int64("session_id", req.SessionID).Msg("responder failed")
		sendEvent(w, flusher, model.StreamEvent{Error: true, ErrorMessage: err.Error()})
		s.stats.streamsAborted.Add(1)
		return
	}

	full, err := json.Marshal(map[string]string{"response": reply.Text})
	if err != nil {
		sendEvent(w, flusher, model.StreamEvent{Error: true, ErrorMessage: "encode reply"})
		s.stats.streamsAborted.Add(1)
		return
	}

	for _, chunk := range splitRunes(string(full), size) {
		if delay > 0 {
			select {
			case <-ctx.Done():
				s.stats.streamsAborted.Add(1)
				logger.Debug().Int64("session_id", req.SessionID).Msg("client went away mid-stream")
				return
			case <-time.After(delay):
			}
		} else if ctx.Err() != nil {
			s.stats.streamsAborted.Add(1)
			return
		}
		sendEvent(w, flusher, model.StreamEvent{Chunk: chunk})
	}

	interactionID, convID, err := s.store.addInteraction(req.SessionID, model.Interaction{
		Prompt:      req.Message,
		Response:    string(full),
		Attachments: req.Attachments,
	})
	if err != nil {
		sendEvent(w, flusher, model.StreamEvent{Error: true, ErrorMessage: err.Error()})
		s.stats.streamsAborted.Add(1)
		return
	}

	done := model.StreamEvent{
		Done:           true,
		FullResponse:   string(full),
		InteractionID:  interactionID,
		ConversationID: convID,
	}
	if q := reply.Question; q != nil {
		done.QuestionType = string(q.Type)
		done.QuestionOptions = q.Options
		done.AwaitingAnswer = q.AwaitingAnswer
	}
	sendEvent(w, flusher, done)
	s.stats.streamsCompleted.Add(1)
}

// sendEvent writes one SSE data line.
func sendEvent(w http.ResponseWriter, flusher http.Flusher, ev model.StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// splitRunes cuts s into pieces of at most size runes without splitting a
// character.
func splitRunes(s string, size int) []string {
	if size <= 0 || s == "" {
		return []string{s}
	}
	var out []string
	for len(s) > 0 {
		n, i := 0, 0
		for i < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[i:])
			i += w
			n++
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}
