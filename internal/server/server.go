// Package server exposes the rate graph, scans and opportunities over HTTP
// and streams live updates over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/metrics"
	"github.com/alanyoungcy/arbgraph/internal/server/handler"
	"github.com/alanyoungcy/arbgraph/internal/server/middleware"
	"github.com/alanyoungcy/arbgraph/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards mutating routes; empty disables auth
	// Limiter, when set, caps mutating requests per client IP.
	Limiter        domain.RateLimiter
	WriteLimit     int
	WriteLimitSpan time.Duration
	// Metrics, when set, is served on GET /metrics and counts every request.
	Metrics *metrics.Metrics
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Graph         *handler.GraphHandler
	Rates         *handler.RatesHandler
	Opportunities *handler.OpportunityHandler
	Audit         *handler.AuditHandler // optional; needs Postgres
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := http.NewServeMux()

	// Mutating routes go through auth and, when configured, rate limiting.
	guard := func(h http.HandlerFunc) http.Handler {
		var out http.Handler = h
		if cfg.Limiter != nil {
			limit, span := cfg.WriteLimit, cfg.WriteLimitSpan
			if limit <= 0 {
				limit = 60
			}
			if span <= 0 {
				span = time.Minute
			}
			out = middleware.RateLimit(cfg.Limiter, limit, span, logger)(out)
		}
		return middleware.RequireAPIKey(cfg.APIKey)(out)
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/graph/assets", handlers.Graph.ListAssets)
	mux.HandleFunc("GET /api/graph/assets/{key}/neighbors", handlers.Graph.Neighbors)
	mux.HandleFunc("GET /api/graph/snapshot", handlers.Graph.Snapshot)

	mux.Handle("POST /api/rates", guard(handlers.Rates.PostRate))
	mux.HandleFunc("GET /api/rates/{source}/{target}/{venue}", handlers.Rates.GetRate)
	mux.Handle("POST /api/scan", guard(handlers.Opportunities.Scan))
	mux.HandleFunc("GET /api/opportunities/recent", handlers.Opportunities.ListRecent)
	mux.HandleFunc("GET /api/opportunities/stream", handlers.Opportunities.Stream)

	if handlers.Audit != nil {
		mux.Handle("GET /api/audit", middleware.RequireAPIKey(cfg.APIKey)(http.HandlerFunc(handlers.Audit.ListEntries)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	var h http.Handler = mux
	if cfg.Metrics != nil {
		h = cfg.Metrics.InstrumentHTTP(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
