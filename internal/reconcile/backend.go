// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"

	"github.com/jeranaias/formchat/internal/backend"
	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/session"
)

// EventStream is an open reply stream.
type EventStream interface {
	// Next returns the next event, or io.EOF at the end of the stream.
	Next() (model.StreamEvent, error)

	// Close releases the stream. It may be called while Next is blocked.
	Close() error
}

// Backend is what the controller needs from the chat backend.
type Backend interface {
	session.Creator
	session.HistoryLoader
	StreamMessage(ctx context.Context, req backend.StreamRequest) (EventStream, error)
}

// HTTPBackend adapts a backend.Client to Backend.
func HTTPBackend(c *backend.Client) Backend {
	return httpBackend{c}
}

type httpBackend struct {
	client *backend.Client
}

func (h httpBackend) CreateSession(ctx context.Context, title string, userID int64) (model.SessionInfo, error) {
	return h.client.CreateSession(ctx, title, userID)
}

func (h httpBackend) History(ctx context.Context, sessionID int64) ([]model.Interaction, error) {
	return h.client.History(ctx, sessionID)
}

func (h httpBackend) StreamMessage(ctx context.Context, req backend.StreamRequest) (EventStream, error) {
	s, err := h.client.StreamMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}
