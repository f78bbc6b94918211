// Package server exposes the document service over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pagedock/pagedock/internal/dispatch"
	"github.com/pagedock/pagedock/internal/metrics"
)

// Options configures the HTTP server.
type Options struct {
	Host        string
	Port        int
	MaxUploadMB int
}

// Server is the HTTP front end. All document semantics live in the
// dispatcher; the server only decodes requests, encodes responses and maps
// typed errors to status codes.
type Server struct {
	options    Options
	echo       *echo.Echo
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// New creates the server and registers all routes.
func New(options Options, d *dispatch.Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.Port == 0 {
		options.Port = 5000
	}
	if options.MaxUploadMB == 0 {
		options.MaxUploadMB = 50
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		options:    options,
		echo:       e,
		dispatcher: d,
		logger:     logger.With().Str("component", "server").Logger(),
	}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Upload size is enforced here, at the ingress; the core never sees an
	// oversized body.
	e.POST("/upload", s.handleUpload, middleware.BodyLimit(fmt.Sprintf("%dM", options.MaxUploadMB)))

	e.GET("/documents", s.handleList)
	e.POST("/merge", s.handleMerge)
	e.GET("/document/:id/info", s.handleInfo)
	e.GET("/document/:id/page/:page/render", s.handleRender)
	e.GET("/document/:id/page/:page/text", s.handleText)
	e.POST("/document/:id/search", s.handleSearch)
	e.GET("/document/:id/download", s.handleDownload)
	e.DELETE("/document/:id", s.handleDelete)

	return s
}

// Start begins serving and blocks until the server is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.options.Host, s.options.Port)
	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}
