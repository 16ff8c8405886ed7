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
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // if empty, admin routes are open

	// BidRateLimit bids per BidRateWindow per client IP. Zero disables it.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Stats    *handler.StatsHandler
	Auctions *handler.AuctionHandler
	Bids     *handler.BidHandler
	Events   *handler.EventsHandler
	// WS upgrades GET /ws/{user_id}. Optional.
	WS http.HandlerFunc
}

// Server is the HTTP + WebSocket API server for live auctions.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil when bid rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, handlers, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewRouter builds the routed handler with its middleware chain.
func NewRouter(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.AdminAuth(cfg.AdminAPIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/stats", handlers.Stats.GetStats)

	// Catalogue.
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	mux.HandleFunc("GET /api/auctions/{id}/time", handlers.Auctions.TimeRemaining)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Bids.ListBids)
	mux.HandleFunc("GET /api/auctions/{id}/events", handlers.Events.ListEvents)

	// Bidding.
	var placeBid http.Handler = http.HandlerFunc(handlers.Bids.PlaceBid)
	if limiter != nil && cfg.BidRateLimit > 0 {
		placeBid = middleware.RateLimit(limiter, "bid", cfg.BidRateLimit, cfg.BidRateWindow, logger)(placeBid)
	}
	mux.Handle("POST /api/auctions/{id}/bids", placeBid)

	// Admin.
	mux.Handle("POST /api/auctions", admin(http.HandlerFunc(handlers.Auctions.OpenAuction)))
	mux.Handle("POST /api/auctions/{id}/stop", admin(http.HandlerFunc(handlers.Auctions.StopAuction)))
	mux.Handle("POST /api/auctions/{id}/resolve", admin(http.HandlerFunc(handlers.Auctions.ResolveAuction)))

	if handlers.WS != nil {
		mux.HandleFunc("GET /ws/{user_id}", handlers.WS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
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
