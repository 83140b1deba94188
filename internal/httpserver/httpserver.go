// Package httpserver is the shared net/http server lifecycle helper used
// by cmd/eapi, cmd/sapi, and the admin surface: construct with a handler,
// Start in the background, Shutdown with a deadline.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Config holds the listen address and timeouts for a Server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns a Config for addr with conservative timeouts:
// 5s read, 30s write, 120s idle.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Server wraps http.Server with a Start/Shutdown pair that never blocks
// the caller's goroutine on ListenAndServe.
type Server struct {
	cfg    Config
	server *http.Server
	errCh  chan error
}

// New builds a Server that will serve handler once Start is called.
func New(cfg Config, handler http.Handler) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		errCh: make(chan error, 1),
	}
}

// Start begins serving in a background goroutine. A bind failure (not
// ErrServerClosed) is delivered on Errors().
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
			return
		}
		s.errCh <- nil
	}()
}

// Errors surfaces a terminal listen error, or nil on a clean shutdown.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}
