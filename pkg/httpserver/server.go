package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/healthprobe"
	"github.com/betcore/sprintbet/pkg/types"
)

// SignalSubmitter runs a signal through the admit-route-record pipeline.
type SignalSubmitter interface {
	Submit(ctx context.Context, sig *types.Signal) (*types.ExecutionResult, string, error)
}

// PositionBook provides read-only access to open positions and bankroll.
type PositionBook interface {
	PendingTrades() []*types.PendingTrade
	Bankroll() float64
	Reserved() float64
	Available() float64
	OpenCount() int
}

// Server provides HTTP endpoints for signal ingestion, position inspection,
// metrics and health checks.
type Server struct {
	server        *http.Server
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker
	Engine        SignalSubmitter
	Positions     PositionBook
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	if cfg.Engine != nil {
		sh := NewSignalHandler(cfg.Engine, cfg.Logger)
		r.Post("/api/signal", sh.HandleSignal)
	}
	if cfg.Positions != nil {
		ph := NewPositionsHandler(cfg.Positions, cfg.Logger)
		r.Get("/api/positions", ph.HandlePositions)
		r.Get("/api/bankroll", ph.HandleBankroll)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server:        server,
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
