// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpsrv "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	mcpEndpoint     = "/mcp"
	sseEndpoint     = "/sse"
	messageEndpoint = "/messages"

	maxRequestBodyBytes = 16 << 20 // generous; uploads arrive base64-encoded
)

// serverConfig collects the tunables applied through options.
type serverConfig struct {
	addr               string
	sessionIdleTimeout time.Duration
	reaperInterval     time.Duration
	shutdownTimeout    time.Duration
	rateLimitRPS       float64
	rateLimitBurst     int
	instructions       string
}

// Server orchestrates the transports and owns all session state: both
// registries, their reapers, and the engine factory. Handlers receive
// the registries by injection; nothing in this package is process-
// global except the default logger.
type Server struct {
	name    string
	version string
	config  *serverConfig
	logger  Logger

	factory *engineFactory

	streamRegistry *sessionRegistry[*streamSession]
	sseRegistry    *sessionRegistry[*sseSession]
	streamReaper   *sessionReaper[*streamSession]
	sseReaper      *sessionReaper[*sseSession]

	streamHandler *streamableHandler
	legacyHandler *sseHandler

	httpServer *http.Server
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used by the server and its
// handlers.
func WithServerLogger(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithListenAddr sets the HTTP listen address.
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		s.config.addr = addr
	}
}

// WithSessionIdleTimeout sets the idle threshold for reaping.
func WithSessionIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.config.sessionIdleTimeout = d
	}
}

// WithReaperInterval sets the reaper sweep period.
func WithReaperInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		s.config.reaperInterval = d
	}
}

// WithShutdownTimeout sets the hard upper bound on graceful shutdown.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.config.shutdownTimeout = d
	}
}

// WithRateLimit bounds the inbound request rate across all endpoints.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.config.rateLimitRPS = rps
		s.config.rateLimitBurst = burst
	}
}

// WithInstructions sets the usage instructions advertised to clients
// during initialization.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.config.instructions = instructions
	}
}

// NewServer creates a server exposing the given tool set over all
// transports.
func NewServer(name, version string, tools []mcpsrv.ServerTool, opts ...ServerOption) *Server {
	s := &Server{
		name:    name,
		version: version,
		config: &serverConfig{
			addr:               ":8000",
			sessionIdleTimeout: 30 * time.Minute,
			reaperInterval:     time.Minute,
			shutdownTimeout:    10 * time.Second,
			rateLimitRPS:       20,
			rateLimitBurst:     40,
		},
		logger: GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.factory = newEngineFactory(name, version, s.config.instructions, tools)

	s.streamRegistry = newSessionRegistry[*streamSession]()
	s.sseRegistry = newSessionRegistry[*sseSession]()
	s.streamReaper = newSessionReaper(s.streamRegistry, s.config.reaperInterval, s.config.sessionIdleTimeout, s.logger)
	s.sseReaper = newSessionReaper(s.sseRegistry, s.config.reaperInterval, s.config.sessionIdleTimeout, s.logger)

	s.streamHandler = newStreamableHandler(s.streamRegistry, s.factory, s.logger)
	s.legacyHandler = newSSEHandler(s.sseRegistry, s.factory, messageEndpoint, s.logger)

	return s
}

// Handler returns the HTTP handler serving all transport endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxRequestBodyBytes))
	r.Use(rateLimitMiddleware(rate.NewLimiter(rate.Limit(s.config.rateLimitRPS), s.config.rateLimitBurst)))

	r.Handle(mcpEndpoint, s.streamHandler)
	r.Get(sseEndpoint, s.legacyHandler.handleSSE)
	r.Post(messageEndpoint, s.legacyHandler.handleMessage)
	return r
}

// rateLimitMiddleware rejects requests above the configured rate with
// HTTP 429.
func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Start runs the HTTP mode: binds the listen address, mounts both
// transport handlers, and starts the reapers. It blocks until ctx is
// cancelled or the listener fails, then performs the shutdown sweep.
func (s *Server) Start(ctx context.Context) error {
	s.streamReaper.start()
	s.sseReaper.start()

	s.httpServer = &http.Server{
		Addr:    s.config.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Server %s %s listening on %s", s.name, s.version, s.config.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains every live session in both registries concurrently,
// stops the reapers, and closes the listener. It fails when the drain
// does not finish inside the shutdown deadline; the caller should then
// force-exit rather than hang undrainable.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.shutdownTimeout)
	defer cancel()

	s.logger.Infof("Shutting down: %d streamable and %d SSE sessions live",
		s.streamRegistry.size(), s.sseRegistry.size())

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.streamRegistry.closeAll(s.logger)
		return nil
	})
	g.Go(func() error {
		s.sseRegistry.closeAll(s.logger)
		return nil
	})

	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()

	var drainErr error
	select {
	case drainErr = <-drained:
	case <-ctx.Done():
		drainErr = fmt.Errorf("session drain exceeded %v deadline", s.config.shutdownTimeout)
	}

	s.streamReaper.stop()
	s.sseReaper.stop()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && drainErr == nil {
			drainErr = fmt.Errorf("listener shutdown: %w", err)
		}
	}

	if drainErr != nil {
		return drainErr
	}
	s.logger.Infof("Shutdown complete")
	return nil
}

// ServeStdio runs the stdio mode: one implicit session for the process
// lifetime, no listening port and no registries. It blocks until ctx
// is cancelled or stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := mcpsrv.NewStdioServer(s.factory.newMCPServer())
	if err := srv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}
