// Package server exposes the operator REST surface: fleet status, start and
// stop control, ledger history, and runtime config updates.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/windowbot/internal/server/handler"
	"github.com/alanyoungcy/windowbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Bots   *handler.BotHandler
	Ledger *handler.LedgerHandler
}

// Server is the headless HTTP API server for the bot fleet.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (auth, logging, CORS) applied.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required beyond the chain).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Fleet endpoints.
	mux.HandleFunc("GET /api/bots", handlers.Bots.List)
	mux.HandleFunc("GET /api/bots/{id}", handlers.Bots.Get)
	mux.HandleFunc("POST /api/bots/{id}/start", handlers.Bots.Start)
	mux.HandleFunc("POST /api/bots/{id}/stop", handlers.Bots.Stop)
	mux.HandleFunc("PUT /api/bots/{id}/config", handlers.Bots.UpdateConfig)

	// Ledger history.
	mux.HandleFunc("GET /api/bots/{id}/ledger", handlers.Ledger.Trades)
	mux.HandleFunc("GET /api/bots/{id}/history", handlers.Ledger.History)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
