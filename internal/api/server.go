// Package api exposes forge's introspection HTTP API: read-only views
// over the compiler registry, outstanding markers, and build history,
// served as a documented REST API via Huma on top of chi.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/xlegames/forge/internal/api/middleware"
	"github.com/xlegames/forge/internal/config"
)

// Server is forge's introspection HTTP server.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a Server and registers the given route groups against
// its Huma API. version is surfaced in the generated OpenAPI document.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string, registrars ...func(huma.API)) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(chimiddleware.Compress(5))

	humaConfig := huma.DefaultConfig("forge API", version)
	humaConfig.Info.Description = "Introspection API for the compiler registry, intermediate store, and build history."

	humaAPI := humachi.New(router, humaConfig)
	for _, register := range registrars {
		register(humaAPI)
	}

	return &Server{
		cfg:    cfg,
		router: router,
		api:    humaAPI,
		logger: logger,
	}
}

// API returns the Huma API, for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router, for mounting additional plain HTTP routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It blocks until the server stops or errors.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("starting introspection API", slog.String("address", s.cfg.Address()))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serving: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutting down: %w", err)
	}
	s.logger.Info("introspection API stopped")
	return nil
}

// ListenAndServe starts the server and blocks until ctx is cancelled,
// then gracefully shuts it down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
