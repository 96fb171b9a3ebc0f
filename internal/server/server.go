package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rift-hq/gateway/internal/ratelimit"
)

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter is optional; nil disables submission rate limiting.
type ServerConfig struct {
	Deps    HandlersDeps
	Limiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Deps)

	submitRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)

	mux := http.NewServeMux()

	// Public API.
	mux.Handle("POST /api/run", submitRL(http.HandlerFunc(h.HandleSubmitRun)))
	mux.HandleFunc("GET /api/run/{run_id}/status", h.HandleRunStatus)
	mux.HandleFunc("GET /api/run/{run_id}/result", h.HandleRunResult)
	mux.HandleFunc("GET /api/run/{run_id}/report", h.HandleRunReport)

	// SSE subscription (no rate limit — long-lived connection).
	mux.HandleFunc("GET /api/run/{run_id}/events", h.HandleRunEvents)

	// Trusted pipeline ingest. Deployed behind network isolation; these
	// routes are never exposed on the public listener.
	mux.HandleFunc("POST /internal/run/{run_id}/events", h.HandleIngestEvent)
	mux.HandleFunc("POST /internal/run/{run_id}/complete", h.HandleCompleteRun)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → body cap → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Deps.Logger, handler)
	handler = loggingMiddleware(cfg.Deps.Logger, handler)
	handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Deps.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
