// Package api serves a read-only HTTP view over the pattern store.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/ethpandaops/triagoor/pkg/patterns"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	store      patterns.Store
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server over an already-loaded pattern
// store.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	store patterns.Store,
) Server {
	return &server{
		log:   log.WithField("component", "api"),
		cfg:   cfg,
		store: store,
	}
}

// Start binds the listener and starts serving.
func (s *server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
