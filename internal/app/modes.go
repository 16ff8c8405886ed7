package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/config"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/pipeline"
	"github.com/alanyoungcy/auctionhouse/internal/server"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// auctionRuntime is the live auction machinery of one instance.
type auctionRuntime struct {
	hub         *ws.Hub
	relay       *ws.Relay // nil without Redis
	scheduler   *auction.Scheduler
	coordinator *auction.Coordinator
}

// ServerMode serves the HTTP and WebSocket API and drives auction countdowns.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	rt, err := a.startAuctions(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, rt)
	return g.Wait()
}

// ArchiveMode only runs the scheduled S3 archive job.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchive(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the server and, when enabled, the archive job in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	rt, err := a.startAuctions(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, rt)

	if a.cfg.Archive.Enabled {
		if err := a.startArchive(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	return g.Wait()
}

// newRuntime builds the hub, scheduler and coordinator around deps.
func (a *App) newRuntime(deps *Dependencies) *auctionRuntime {
	policy := policyFromConfig(a.cfg.Auction)

	hub := ws.NewHub(a.logger)
	rt := &auctionRuntime{hub: hub}

	// Without Redis the hub delivers directly and there is no journal.
	var publisher domain.EventPublisher = hub
	if deps.SignalBus != nil {
		rt.relay = ws.NewRelay(deps.SignalBus, hub, a.cfg.Server.Fanout == "redis", a.logger)
		publisher = rt.relay
		hub.WithPublisher(rt.relay)
	}

	ledger := auction.NewLedger(deps.AuctionStore, deps.BidStore)
	rt.scheduler = auction.NewScheduler(policy, deps.AuctionStore, ledger, publisher, a.logger).
		WithAudit(deps.AuditStore)
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		rt.scheduler.WithAlerter(deps.Notifier)
	}

	rt.coordinator = auction.NewCoordinator(policy, deps.AuctionStore, deps.BidStore, ledger, rt.scheduler, publisher, a.logger).
		WithAudit(deps.AuditStore)
	if a.cfg.Auction.DistributedLock && deps.LockManager != nil {
		rt.coordinator.WithDistributedLock(deps.LockManager)
	}

	hub.WithCatalog(rt.coordinator)
	return rt
}

// startAuctions starts the hub, relay and scheduler goroutines and restores
// the countdowns of auctions that were active before a restart.
func (a *App) startAuctions(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*auctionRuntime, error) {
	rt := a.newRuntime(deps)

	g.Go(func() error {
		return rt.hub.Run(ctx)
	})
	if rt.relay != nil {
		g.Go(func() error {
			return rt.relay.Run(ctx)
		})
	}
	g.Go(func() error {
		return rt.scheduler.Run(ctx)
	})

	if err := rt.coordinator.Recover(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

// startHTTPServer adds the API server to g. It shuts down gracefully when ctx
// is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *auctionRuntime) {
	if a.cfg.Server.AdminAPIKey == "" {
		a.logger.WarnContext(ctx, "server.admin_api_key is empty; open, stop and resolve are unauthenticated")
	}

	health := handler.NewHealthHandler(a.logger)
	for name, check := range deps.Checks {
		health.WithCheck(name, check)
	}

	var journal handler.EventJournal
	if rt.relay != nil {
		journal = rt.relay
	}

	srv := server.NewServer(a.serverConfig(), server.Handlers{
		Health:   health,
		Stats:    handler.NewStatsHandler(a.cfg.Mode, rt.hub, rt.scheduler),
		Auctions: handler.NewAuctionHandler(rt.coordinator, a.logger),
		Bids:     handler.NewBidHandler(rt.coordinator, a.logger),
		Events:   handler.NewEventsHandler(journal, rt.coordinator, a.logger),
		WS:       rt.hub.HandleWS,
	}, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Run(ctx, a.cfg.Server.ShutdownTimeout.Duration)
	})
}

// startArchive adds the cron-driven archive job to g.
func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive: no archiver configured")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	a.logger.InfoContext(ctx, "archive job scheduled",
		slog.String("cron", a.cfg.Archive.Cron),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return nil
}

func (a *App) serverConfig() server.Config {
	return server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		AdminAPIKey:   a.cfg.Server.AdminAPIKey,
		BidRateLimit:  a.cfg.Server.BidRateLimit,
		BidRateWindow: a.cfg.Server.BidRateWindow.Duration,
	}
}

// policyFromConfig overlays the configured rules on the defaults. Zero
// values keep the default.
func policyFromConfig(c config.AuctionConfig) auction.Policy {
	p := auction.DefaultPolicy()
	if c.TickUnit.Duration > 0 {
		p.Unit = c.TickUnit.Duration
	}
	if c.SlowCadence > 0 {
		p.SlowCadence = c.SlowCadence
	}
	if c.FastCadence > 0 {
		p.FastCadence = c.FastCadence
	}
	if c.WarningAt > 0 {
		p.WarningAt = c.WarningAt
	}
	if c.FinalWarningAt > 0 {
		p.FinalWarningAt = c.FinalWarningAt
	}
	if c.AntiSnipeWindow > 0 {
		p.AntiSnipeWindow = c.AntiSnipeWindow
	}
	if c.Extension > 0 {
		p.Extension = c.Extension
	}
	p.MaxLifetime = c.MaxLifetime.Duration
	if c.DefaultMinIncrement > 0 {
		p.DefaultMinIncrement = c.DefaultMinIncrement
	}
	if c.DefaultDuration.Duration > 0 {
		p.DefaultDuration = c.DefaultDuration.Duration
	}
	if c.ResolveAttempts > 0 {
		p.ResolveAttempts = c.ResolveAttempts
	}
	if c.LockTTL.Duration > 0 {
		p.LockTTL = c.LockTTL.Duration
	}
	return p
}
