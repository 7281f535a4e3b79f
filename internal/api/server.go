package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/velox/internal/auth"
	"github.com/mattjoyce/velox/internal/dispatch"
	"github.com/mattjoyce/velox/internal/events"
	"github.com/mattjoyce/velox/internal/protocol"
)

// Bridge is the call surface the server exposes.
type Bridge interface {
	Submit(ctx context.Context, env protocol.Envelope) (*dispatch.Call, error)
	Call(ctx context.Context, env protocol.Envelope) protocol.Result
	Cancel(id string) error
	Pending() int
}

// Catalog describes the registered operations.
type Catalog interface {
	Schemas() map[string]protocol.Schema
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Token is the admin bearer token (scope "*").
	Token string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// AllowOrigins are host patterns accepted on cross-origin websocket handshakes.
	AllowOrigins []string
	// Workers is reported by /healthz.
	Workers         int
	ShutdownTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	bridge    Bridge
	catalog   Catalog
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, bridge Bridge, catalog Catalog, hub *events.Hub, logger *slog.Logger) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		bridge:    bridge,
		catalog:   catalog,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeCall)).Get("/bridge", s.handleBridge)
		r.With(s.requireScopes(auth.ScopeCall)).Post("/call/{capability}/{operation}", s.handleCall)
		r.With(s.requireScopes(auth.ScopeCall)).Post("/cancel/{id}", s.handleCancel)
		r.With(s.requireScopes(auth.ScopeCall)).Get("/operations", s.handleOperations)
		r.With(s.requireScopes(auth.ScopeCall)).Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireScopes(auth.ScopeEvents)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
