// Package server is the operator HTTP + WebSocket API of the auction engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// ResolveLimit caps manual resolve requests per client per ResolveWindow.
	// Zero disables the limit.
	ResolveLimit  int
	ResolveWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Cycles  *handler.CycleHandler
	Audit   *handler.AuditHandler
	Archive *handler.ArchiveHandler
	// Trades is nil when no event bus is wired.
	Trades  *handler.TradeFeedHandler
}

// Server is the operator API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route, wraps them in logging, CORS and auth
// middleware, and attaches the WebSocket hub when one is given. limiter may
// be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/transactions", handlers.Markets.ListTransactions)
	mux.HandleFunc("GET /api/markets/{id}/price-history", handlers.Markets.PriceHistory)
	mux.HandleFunc("GET /api/markets/{id}/cycles", handlers.Cycles.ListCycles)

	resolveDue := http.Handler(http.HandlerFunc(handlers.Cycles.ResolveDue))
	resolveMarket := http.Handler(http.HandlerFunc(handlers.Cycles.ResolveMarket))
	if limiter != nil && cfg.ResolveLimit > 0 {
		limit := middleware.RateLimit(limiter, "api:resolve", cfg.ResolveLimit, cfg.ResolveWindow, logger)
		resolveDue, resolveMarket = limit(resolveDue), limit(resolveMarket)
	}
	mux.Handle("POST /api/cycles/resolve", resolveDue)
	mux.Handle("POST /api/markets/{id}/resolve", resolveMarket)

	mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	mux.HandleFunc("POST /api/archive/trigger", handlers.Archive.Trigger)
	if handlers.Trades != nil {
		mux.HandleFunc("GET /api/trades/feed", handlers.Trades.Replay)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Manual resolution of a large market can take a while.
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
