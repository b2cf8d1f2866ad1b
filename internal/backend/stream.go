// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/formchat/internal/model"
	"github.com/jeranaias/formchat/internal/sse"
)

// StreamRequest is the body of a streaming chat request.
type StreamRequest struct {
	SessionID      int64              `json:"session_id"`
	Message        string             `json:"message"`
	UserID         int64              `json:"user_id"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Attachments    []model.Attachment `json:"attachments"`
}

// Stream is an open streamed reply.
type Stream struct {
	*sse.Decoder
	body io.ReadCloser
}

// Close releases the connection. Closing before the end of the reply
// aborts it.
func (s *Stream) Close() error {
	return s.body.Close()
}

// StreamMessage posts a prompt and returns the reply stream. The stream
// stays open until it is drained, closed or ctx is cancelled.
func (c *Client) StreamMessage(ctx context.Context, sr StreamRequest) (*Stream, error) {
	if sr.Attachments == nil {
		sr.Attachments = []model.Attachment{}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat/stream", nil, sr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("open stream: %w", errorFromResponse(resp.StatusCode, body))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, fmt.Errorf("open stream: %w", ErrNoBody)
	}

	c.logger.Debug().
		Int64("session_id", sr.SessionID).
		Int("attachments", len(sr.Attachments)).
		Msg("reply stream opened")

	return &Stream{
		Decoder: sse.NewDecoder(resp.Body, sse.WithLogger(c.logger)),
		body:    resp.Body,
	}, nil
}
