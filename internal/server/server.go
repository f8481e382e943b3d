package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/approval"
	"github.com/Jdogg9/agent-admission-sidecar/internal/auth"
	"github.com/Jdogg9/agent-admission-sidecar/internal/intent"
	"github.com/Jdogg9/agent-admission-sidecar/internal/registry"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trust"
)

// Deps are the wired components the HTTP surface exposes.
type Deps struct {
	Router    *intent.Router
	Registry  *registry.Registry
	Approvals approval.Store
	Hitl      *intent.HitlQueue
	Panel     *trust.Panel
	Traces    trace.Store
	Auth      *auth.Manager

	ApprovalTTLSeconds int
}

type Server struct {
	echo   *echo.Echo
	config Config
	wsHub  *Hub
}

func New(cfg Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		config: cfg,
	}

	s.setupMiddleware()
	s.setupRoutes(deps)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Info().Int("port", s.config.Port).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = time.Duration(s.config.ReadTimeout) * time.Second
	s.echo.Server.WriteTimeout = time.Duration(s.config.WriteTimeout) * time.Second

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	if s.wsHub != nil {
		s.wsHub.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
}

func (s *Server) setupRoutes(deps Deps) {
	intentHandler := NewIntentHandler(deps.Router, deps.Traces)
	toolHandler := NewToolHandler(deps.Registry, deps.Traces)
	approvalHandler := NewApprovalHandler(deps.Approvals, deps.ApprovalTTLSeconds)
	hitlHandler := NewHitlHandler(deps.Hitl)
	trustHandler := NewTrustHandler(deps.Panel)
	wsHandler := NewWSHandler(deps.Hitl, deps.Auth)
	authHandler := auth.NewHandler(deps.Auth)

	s.wsHub = wsHandler.GetHub()

	// Public endpoints.
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/login", authHandler.Login)

	protected := s.echo.Group("")
	protected.Use(deps.Auth.Middleware())

	protected.GET("/me", authHandler.Me)

	protected.POST("/intent/route", intentHandler.Route)
	protected.POST("/tool/call", toolHandler.Call)
	protected.GET("/tools", toolHandler.List)

	protected.POST("/approvals", approvalHandler.Issue)
	protected.GET("/hitl/pending", hitlHandler.GetPending)

	protected.GET("/trust/events", trustHandler.ListEvents)
	protected.GET("/trust/trace/:id", trustHandler.GetTraceReport)
	protected.GET("/trust/verify/:id", trustHandler.Verify)

	protected.GET("/ws", wsHandler.HandleWebSocket)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
