// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides an in-memory development backend for the
// formulation chat API.
//
// It speaks the same wire protocol as the production service so the
// client can be run and tested without one.
//
// Endpoints:
//   - POST   /api/chat/sessions       - Create a session
//   - GET    /api/chat/sessions       - List a user's sessions
//   - GET    /api/chat/sessions/{id}  - Session with its interactions
//   - DELETE /api/chat/sessions/{id}  - Delete a session
//   - GET    /api/chat/templates      - Prompt templates
//   - POST   /api/chat/stream         - Streamed reply (text/event-stream)
//   - GET    /api/resources           - Library resources
//   - GET    /healthz                 - Health check
//   - GET    /stats                   - Request counters
//
// REST responses are wrapped in {"success", "data", "message"}. Replies are
// produced by a Responder, wrapped as {"response": "..."} and streamed in
// small chunks, followed by a done event carrying the full response.
//
// # Usage
//
//	srv := server.NewServer("127.0.0.1:8080").
//	    WithLogger(logger).
//	    WithToken(os.Getenv("DEV_TOKEN"))
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
