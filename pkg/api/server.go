// Package api exposes agent runs over HTTP and streams their events over
// WebSocket.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/agentrun/pkg/config"
	"github.com/codeready-toolchain/agentrun/pkg/database"
	"github.com/codeready-toolchain/agentrun/pkg/events"
	"github.com/codeready-toolchain/agentrun/pkg/executor"
)

// Server is the HTTP API server.
type Server struct {
	cfg        *config.Config
	echo       *echo.Echo
	httpServer *http.Server
	deps       executor.Deps
	registry   *events.Registry
	dbClient   *database.Client // nil with in-memory persistence

	// runOwners maps the id of every active async run to its user.
	runOwners sync.Map
}

// NewServer creates the API server. deps.Runs and deps.Threads must be set;
// dbClient may be nil.
func NewServer(cfg *config.Config, deps executor.Deps, registry *events.Registry, dbClient *database.Client) *Server {
	e := echo.New()

	s := &Server{
		cfg:      cfg,
		echo:     e,
		deps:     deps,
		registry: registry,
		dbClient: dbClient,
		httpServer: &http.Server{
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(securityHeaders())
	s.echo.Use(requestID())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1", requireUser())
	v1.GET("/agents", s.listAgentsHandler)
	v1.POST("/runs", s.createRunHandler)
	v1.DELETE("/runs/:id", s.cancelRunHandler)
	v1.GET("/ws", s.wsHandler)
	v1.GET("/threads/:id/messages", s.threadMessagesHandler)
	v1.GET("/executions", s.listExecutionsHandler)
	v1.GET("/metrics/errors", s.errorMetricsHandler)
	v1.GET("/breakers", s.breakersHandler)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked WebSocket connections are not tracked by http.Server, so they are
// closed through the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.CloseAll()
	return s.httpServer.Shutdown(ctx)
}
