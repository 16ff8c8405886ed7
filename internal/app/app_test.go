package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/cache/memory"
	"github.com/alanyoungcy/auctionhouse/internal/config"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

func testApp(t *testing.T, mutate func(*config.Config)) (*App, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.Port = 0
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&cfg, logger), &cfg
}

func TestPolicyFromConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Auction.Extension = 45
	cfg.Auction.WarningAt = 60
	cfg.Auction.ResolveAttempts = 0

	p := policyFromConfig(cfg.Auction)
	def := auction.DefaultPolicy()
	assert.Equal(t, int64(45), p.Extension)
	assert.Equal(t, int64(60), p.WarningAt)
	assert.Equal(t, def.ResolveAttempts, p.ResolveAttempts, "zero keeps the default")
	assert.Equal(t, time.Second, p.Unit)
	assert.Equal(t, def.ResolveBackoff, p.ResolveBackoff)
	assert.Zero(t, p.MaxLifetime)
}

func TestWire_MemoryBackend(t *testing.T) {
	t.Parallel()
	a, cfg := testApp(t, nil)

	deps, cleanup, err := Wire(context.Background(), cfg, a.logger)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.AuctionStore)
	assert.NotNil(t, deps.BidStore)
	assert.NotNil(t, deps.AuditStore)
	assert.IsType(t, &memory.RateLimiter{}, deps.RateLimiter)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Checks)
	assert.False(t, deps.Notifier.Enabled())
}

func TestNewRuntime_BidsReachTheStore(t *testing.T) {
	t.Parallel()
	a, cfg := testApp(t, nil)
	deps, cleanup, err := Wire(context.Background(), cfg, a.logger)
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	rt, err := a.startAuctions(gctx, g, deps)
	require.NoError(t, err)
	assert.Nil(t, rt.relay, "no relay without redis")

	opened, err := rt.coordinator.OpenAuction(ctx, auction.OpenParams{
		ItemID:        "item-1",
		StartingPrice: 100000,
		Duration:      time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rt.scheduler.Active())

	_, err = rt.coordinator.PlaceBid(ctx, opened.ID, "u1", "alice", 125000)
	require.NoError(t, err)

	stored, err := deps.AuctionStore.GetAuction(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(125000), stored.CurrentPrice)

	entries, err := deps.AuditStore.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	cancel()
	assert.ErrorIs(t, g.Wait(), context.Canceled)
}

func TestArchiveMode_RequiresArchiver(t *testing.T) {
	t.Parallel()
	a, _ := testApp(t, nil)
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archiver configured")
}

func TestServerMode_StopsOnCancel(t *testing.T) {
	t.Parallel()
	a, cfg := testApp(t, nil)
	deps, cleanup, err := Wire(context.Background(), cfg, a.logger)
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.ServerMode(ctx, deps) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server mode did not stop")
	}
}

func TestRun_UnsupportedMode(t *testing.T) {
	t.Parallel()
	a, _ := testApp(t, func(c *config.Config) { c.Mode = "replay" })
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "replay"`)
	a.Close()
}
