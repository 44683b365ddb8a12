package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weftworks/weft/common/logger"
)

// Server wraps HTTP server with graceful shutdown. Registered shutdown
// hooks run after the stop signal and before the HTTP listener drains, so
// the service stops taking on new work (triggers, executions) while
// in-flight requests complete.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
	name       string
	closing    chan struct{}
	onShutdown []func(ctx context.Context)
}

// New creates a new server
func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log:     log,
		name:    name,
		closing: make(chan struct{}),
	}

	// Long-lived handlers (SSE) watch Closing() to end their streams, since
	// Shutdown waits for active requests rather than canceling them.
	s.httpServer.RegisterOnShutdown(func() {
		close(s.closing)
	})

	return s
}

// OnShutdown registers a hook to run when the server begins shutting down.
// Hooks run in registration order with a bounded context.
func (s *Server) OnShutdown(fn func(ctx context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Closing is closed once shutdown begins.
func (s *Server) Closing() <-chan struct{} {
	return s.closing
}

// Start starts the server and blocks until a fatal error or shutdown signal
func (s *Server) Start() error {
	// Channel to listen for errors
	serverErrors := make(chan error, 1)

	// Start HTTP server
	go func() {
		s.log.Info(fmt.Sprintf("%s starting", s.name), "addr", s.httpServer.Addr)
		serverErrors <- s.httpServer.ListenAndServe()
	}()

	// Channel to listen for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until error or shutdown signal
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.log.Info("shutdown signal received", "signal", sig.String())

		// Give hooks and outstanding requests time to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, hook := range s.onShutdown {
			hook(ctx)
		}

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Error("graceful shutdown failed", "error", err)
			if err := s.httpServer.Close(); err != nil {
				return fmt.Errorf("could not stop server: %w", err)
			}
		}

		s.log.Info("shutdown complete")
	}

	return nil
}
