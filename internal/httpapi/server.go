// Package httpapi serves the REST surface and hosts the MCP streamable
// HTTP transport. Every tool reachable over MCP is also reachable as
// POST /v1/tools/:name with a JSON envelope response.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/capture"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/mcp"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server exposes the tool surface, capture hook, and operational
// endpoints over echo.
type Server struct {
	echo     *echo.Echo
	tools    *mcp.Toolset
	capturer *capture.Service
	store    vectorstore.Store
	scrubber secrets.Scrubber
	metrics  *Metrics
	logger   *logging.Logger
	config   *Config
}

// NewServer wires the routes. mcpHandler is the streamable HTTP
// transport from the MCP server; nil skips the /mcp mount.
func NewServer(cfg *Config, tools *mcp.Toolset, mcpHandler http.Handler, capturer *capture.Service, store vectorstore.Store, scrubber secrets.Scrubber, logger *logging.Logger) (*Server, error) {
	if tools == nil {
		return nil, fmt.Errorf("toolset is required")
	}
	if capturer == nil {
		return nil, fmt.Errorf("capture service is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("http")
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9377,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewMetrics(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		tools:    tools,
		capturer: capturer,
		store:    store,
		scrubber: scrubber,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes(mcpHandler)

	return s, nil
}

func (s *Server) registerRoutes(mcpHandler http.Handler) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/tools", s.handleListTools)
	v1.POST("/tools/:name", s.handleTool)
	v1.POST("/capture", s.handleCapture)
	v1.POST("/scrub", s.handleScrub)

	if mcpHandler != nil {
		s.echo.Any("/mcp", echo.WrapHandler(mcpHandler))
		s.echo.Any("/mcp/*", echo.WrapHandler(mcpHandler))
	}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
