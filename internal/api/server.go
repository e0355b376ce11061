package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/lab-control/lcc/internal/auth"
	"github.com/lab-control/lcc/internal/config"
)

// Server represents the HTTP API server.
type Server struct {
	telemetryHub   TelemetryPort
	orchestrator   OrchestratorPort
	instruments    InstrumentPort
	authMiddleware *auth.Middleware
	metrics        http.Handler
	startTime      time.Time
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server with authentication disabled.
func NewServer(telemetryHub TelemetryPort, orchestrator OrchestratorPort, instruments InstrumentPort, cfg config.APIConfig) *Server {
	return NewServerWithAuth(telemetryHub, orchestrator, instruments, auth.NewMiddleware(), cfg)
}

// NewServerWithAuth creates a new API server with authentication middleware.
func NewServerWithAuth(telemetryHub TelemetryPort, orchestrator OrchestratorPort, instruments InstrumentPort, authMiddleware *auth.Middleware, cfg config.APIConfig) *Server {
	if authMiddleware == nil {
		authMiddleware = auth.NewMiddleware()
	}
	return &Server{
		telemetryHub:   telemetryHub,
		orchestrator:   orchestrator,
		instruments:    instruments,
		authMiddleware: authMiddleware,
		startTime:      time.Now(),
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		idleTimeout:    cfg.IdleTimeout,
	}
}

// SetMetricsHandler mounts h at /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// Handler returns the complete routing tree, wrapped for cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return h2c.NewHandler(mux, &http2.Server{IdleTimeout: s.idleTimeout})
}

// Start listens on addr and serves until Stop. It returns nil after a
// graceful shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	log.Printf("API server listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	log.Printf("API server stopped")
	return nil
}

// GetServer returns the underlying HTTP server, nil before Start.
func (s *Server) GetServer() *http.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpServer
}
