// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jeranaias/formchat/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// DefaultChunkSize is the number of runes per streamed chunk.
	DefaultChunkSize = 12

	// DefaultChunkDelay is the pause between streamed chunks.
	DefaultChunkDelay = 30 * time.Millisecond

	// MaxRequestBodySize is the maximum size for request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum prompt length in runes.
	MaxMessageLength = 20000
)

// ============================================================================
// STATS
// ============================================================================

// Stats holds request counters.
type Stats struct {
	SessionsCreated  int64     `json:"sessions_created"`
	StreamsStarted   int64     `json:"streams_started"`
	StreamsCompleted int64     `json:"streams_completed"`
	StreamsAborted   int64     `json:"streams_aborted"`
	StartTime        time.Time `json:"start_time"`
}

type serverStats struct {
	sessionsCreated  atomic.Int64
	streamsStarted   atomic.Int64
	streamsCompleted atomic.Int64
	streamsAborted   atomic.Int64
	startTime        time.Time
}

func (s *serverStats) snapshot() Stats {
	return Stats{
		SessionsCreated:  s.sessionsCreated.Load(),
		StreamsStarted:   s.streamsStarted.Load(),
		StreamsCompleted: s.streamsCompleted.Load(),
		StreamsAborted:   s.streamsAborted.Load(),
		StartTime:        s.startTime,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the development backend.
type Server struct {
	addr   string
	server *http.Server
	store  *memStore
	stats  *serverStats
	logger zerolog.Logger

	token      string
	responder  Responder
	chunkSize  int
	chunkDelay time.Duration
	limiter    *RateLimiter

	mu sync.RWMutex
}

// NewServer creates a server listening on addr. An empty addr uses
// DefaultAddr.
func NewServer(addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr:       addr,
		store:      newMemStore(),
		stats:      &serverStats{startTime: time.Now()},
		logger:     zerolog.Nop(),
		responder:  EchoResponder,
		chunkSize:  DefaultChunkSize,
		chunkDelay: DefaultChunkDelay,
	}
}

// WithLogger sets the logger.
func (s *Server) WithLogger(logger zerolog.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	return s
}

// WithToken requires every API request to carry this bearer token. An empty
// token disables the check.
func (s *Server) WithToken(token string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return s
}

// WithResponder sets the reply generator.
func (s *Server) WithResponder(r Responder) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r != nil {
		s.responder = r
	}
	return s
}

// WithChunking sets how replies are split. Non-positive sizes keep the
// default; a zero delay streams without pauses.
func (s *Server) WithChunking(size int, delay time.Duration) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size > 0 {
		s.chunkSize = size
	}
	if delay >= 0 {
		s.chunkDelay = delay
	}
	return s
}

// WithRateLimiter limits requests per client IP.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
	return s
}

// WithTemplates replaces the template catalog.
func (s *Server) WithTemplates(templates []model.Template) *Server {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.templates = append([]model.Template(nil), templates...)
	return s
}

// WithResources replaces the resource library.
func (s *Server) WithResources(resources []model.Resource) *Server {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.resources = append([]model.Resource(nil), resources...)
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Stats returns the request counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}

// ============================================================================
// ROUTES
// ============================================================================

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	logger, token, limiter := s.logger, s.token, s.limiter
	s.mu.RUnlock()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggingMiddleware(logger))
	r.Use(SecurityHeadersMiddleware())
	if limiter != nil {
		r.Use(RateLimitMiddleware(limiter))
	}

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(token, logger))
		r.Get("/stats", s.handleStats)

		r.Route("/api", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))

				r.Post("/chat/sessions", s.handleCreateSession)
				r.Get("/chat/sessions", s.handleListSessions)
				r.Get("/chat/sessions/{sessionID}", s.handleGetSession)
				r.Delete("/chat/sessions/{sessionID}", s.handleDeleteSession)
				r.Get("/chat/templates", s.handleTemplates)
				r.Get("/resources", s.handleResources)
			})

			// Streaming routes hold the connection open and get no timeout.
			r.Post("/chat/stream", s.handleStream)
		})
	})

	return r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and blocks until the server
// stops. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	handler := s.Handler()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv, logger := s.server, s.logger
	s.mu.Unlock()

	logger.Info().Str("addr", s.addr).Msg("dev backend listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv, logger := s.server, s.logger
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	st := s.stats.snapshot()
	logger.Info().
		Int64("sessions", st.SessionsCreated).
		Int64("streams", st.StreamsStarted).
		Msg("dev backend shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeData writes a successful envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError writes a failed envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
