// Package server provides the HTTP server setup and routing configuration.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mbeck712/troubadour/internal/api"
	"github.com/mbeck712/troubadour/internal/config"
	"github.com/mbeck712/troubadour/internal/db"
	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/middleware"
	"github.com/mbeck712/troubadour/internal/orchestrator"
	"github.com/mbeck712/troubadour/internal/sink"
)

// Server represents the read-only status HTTP server
type Server struct {
	config *config.Config
	db     *db.DB
	orc    *orchestrator.Orchestrator
	sink   sink.Sink
	router *gin.Engine
	server *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, database *db.DB, orc *orchestrator.Orchestrator, s sink.Sink) *Server {
	return &Server{
		config: cfg,
		db:     database,
		orc:    orc,
		sink:   s,
	}
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	if s.config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestLogger())
	s.router.Use(gin.Recovery())
	s.router.Use(cors.Default())

	apiGroup := s.router.Group("/api")

	api.SetupHealthRoutes(apiGroup, s.db, s.sink)
	api.SetupStatusRoutes(apiGroup, s.orc)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.setupRouter()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	logger.Log.Info().
		Str("host", s.config.Server.Host).
		Int("port", s.config.Server.Port).
		Msg("Starting HTTP server")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	logger.Log.Info().Msg("Server stopped")
	return nil
}
