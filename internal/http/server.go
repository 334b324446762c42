// Package http provides the HTTP server for video-streamer.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/EnvelopeHack/video-streamer/internal/config"
	"github.com/EnvelopeHack/video-streamer/internal/http/middleware"
	"github.com/EnvelopeHack/video-streamer/internal/observability"
)

// Routes are the plain HTTP handlers mounted next to the huma API.
type Routes struct {
	Page       http.Handler
	Static     http.Handler
	Video      http.Handler
	Stream     http.Handler
	StreamPath string
}

// Server represents the HTTP server.
type Server struct {
	config     config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router. version is used in the OpenAPI document.
func NewServer(cfg config.ServerConfig, routes Routes, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = observability.Discard()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))

	if routes.Page != nil {
		router.With(chimiddleware.Compress(5, "text/html")).Get("/", routes.Page.ServeHTTP)
	}
	if routes.Static != nil {
		router.With(chimiddleware.Compress(5, "text/javascript")).Get("/static/*", routes.Static.ServeHTTP)
	}
	if routes.Video != nil {
		router.Group(func(r chi.Router) {
			r.Use(middleware.CORS(middleware.MediaCORSConfig(cfg.CORSOrigins)))
			r.Method(http.MethodGet, "/video", routes.Video)
			r.Method(http.MethodHead, "/video", routes.Video)
			r.Method(http.MethodOptions, "/video", routes.Video)
		})
	}
	if routes.Stream != nil {
		router.Get(routes.StreamPath, routes.Stream.ServeHTTP)
	}

	humaConfig := huma.DefaultConfig("video-streamer API", version)
	humaConfig.Info.Description = "Range and WebSocket chunk streaming of a single video file"
	api := humachi.New(router, humaConfig)

	httpServer := &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		config:     cfg,
		router:     router,
		api:        api,
		httpServer: httpServer,
		logger:     observability.WithComponent(logger, "http"),
	}
}

// API returns the huma API for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", slog.String("address", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server", slog.Duration("timeout", s.config.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address(), err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	case err := <-errChan:
		return err
	}
}
