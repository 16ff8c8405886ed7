package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

func TestScheduler_ResolvesOnceAfterDuration(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	f := newFixture(t, p)
	ctx := context.Background()

	seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	_, err := f.ledger.PlaceBid(ctx, "a1", "u1", "alice", 125000)
	require.NoError(t, err)

	started := time.Now()
	f.scheduler.Start("a1", p.units(8))

	require.Eventually(t, func() bool {
		return len(f.pub.ofType(domain.EventAuctionStatus)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	elapsed := time.Since(started)
	assert.GreaterOrEqual(t, elapsed, p.units(8))

	updatesAtEnd := len(f.pub.ofType(domain.EventTimerUpdate))
	assert.GreaterOrEqual(t, updatesAtEnd, 4, "one unit cadence below ten")
	time.Sleep(p.units(5))
	assert.Len(t, f.pub.ofType(domain.EventTimerUpdate), updatesAtEnd, "no updates after resolution")
	assert.Len(t, f.pub.ofType(domain.EventAuctionStatus), 1)

	status := f.pub.ofType(domain.EventAuctionStatus)[0]
	assert.Equal(t, domain.AuctionStatusEnded, status.Status)
	require.NotNil(t, status.Data)
	require.NotNil(t, status.Data.Winner)
	assert.Equal(t, "u1", status.Data.Winner.BidderID)
	assert.Equal(t, int64(125000), status.Data.FinalPrice)

	a, err := f.store.GetAuction(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, a.Active)
	assert.Equal(t, "u1", a.WinnerID)
	require.NotNil(t, a.FinalPrice)
	assert.Equal(t, int64(125000), *a.FinalPrice)

	require.Eventually(t, func() bool { return len(f.pub.personalFor("u1")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.NotificationWon, f.pub.personalFor("u1")[0].Notification.Type)
	assert.Zero(t, f.scheduler.Active())
}

func TestScheduler_NoBidsUsesCurrentPrice(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	f := newFixture(t, p)

	seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	f.scheduler.Start("a1", p.units(2))

	require.Eventually(t, func() bool {
		return len(f.pub.ofType(domain.EventAuctionStatus)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	status := f.pub.ofType(domain.EventAuctionStatus)[0]
	assert.Nil(t, status.Data.Winner)
	assert.Equal(t, int64(100000), status.Data.FinalPrice)
}

func TestScheduler_WarningsFireOnce(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	f := newFixture(t, p)

	seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	f.scheduler.Start("a1", p.units(35))

	require.Eventually(t, func() bool {
		return len(f.pub.ofType(domain.EventAuctionStatus)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Len(t, f.pub.ofType(domain.EventTimerWarning), 1)
	assert.Len(t, f.pub.ofType(domain.EventTimerFinalWarning), 1)

	var sawWarning, sawFinal bool
	for _, e := range f.pub.all() {
		switch e.Type {
		case domain.EventTimerWarning:
			sawWarning = true
			assert.False(t, sawFinal, "30 unit warning precedes final warning")
		case domain.EventTimerFinalWarning:
			sawFinal = true
		case domain.EventAuctionStatus:
			assert.True(t, sawWarning && sawFinal)
		}
	}
}

func TestScheduler_StopCancelsWithoutResolving(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	f := newFixture(t, p)
	ctx := context.Background()

	seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	f.scheduler.Start("a1", p.units(20))

	require.Eventually(t, func() bool {
		return len(f.pub.ofType(domain.EventTimerUpdate)) >= 2
	}, time.Second, 5*time.Millisecond)

	require.True(t, f.scheduler.Stop("a1"))
	assert.False(t, f.scheduler.Stop("a1"))
	updates := len(f.pub.ofType(domain.EventTimerUpdate))

	time.Sleep(p.units(25))
	assert.Len(t, f.pub.ofType(domain.EventTimerUpdate), updates)
	assert.Empty(t, f.pub.ofType(domain.EventAuctionStatus))

	a, err := f.store.GetAuction(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.Active, "stop leaves resolution to the caller")
}

func TestScheduler_Extend(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	f := newFixture(t, p)
	ctx := context.Background()

	_, err := f.scheduler.Extend(ctx, "missing", 30)
	require.ErrorIs(t, err, domain.ErrCountdownNotFound)

	seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	f.scheduler.Start("a1", p.units(28))

	before, ok := f.scheduler.Remaining("a1")
	require.True(t, ok)

	end, err := f.scheduler.Extend(ctx, "a1", 30)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(p.units(58)), end, p.units(2))

	after, ok := f.scheduler.Remaining("a1")
	require.True(t, ok)
	assert.InDelta(t, float64(before+p.units(30)), float64(after), float64(p.units(2)))

	ext := f.pub.ofType(domain.EventTimerExtended)
	require.Len(t, ext, 1)
	assert.Equal(t, int64(30), ext[0].AdditionalSeconds)
	require.NotNil(t, ext[0].NewEndTime)
	assert.True(t, ext[0].NewEndTime.Equal(end.UTC()))

	f.scheduler.Stop("a1")
	_, err = f.scheduler.Extend(ctx, "a1", 30)
	require.ErrorIs(t, err, domain.ErrCountdownNotFound)
}

func TestScheduler_ResolveRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	store := memory.New()
	flaky := &flakyStore{Store: store, closeFails: 2}
	f := newFixtureWithStore(t, p, store, flaky)

	seedAuction(t, store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	res, err := f.scheduler.Resolve(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusEnded, res.Status)
	assert.Equal(t, 3, flaky.closeCalled)
	assert.Len(t, f.pub.ofType(domain.EventAuctionStatus), 1)
}

func TestScheduler_PersistentFailureLeavesAuctionActive(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	store := memory.New()
	flaky := &flakyStore{Store: store, closeFails: 100}
	f := newFixtureWithStore(t, p, store, flaky)

	seedAuction(t, store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	_, err := f.scheduler.Resolve(context.Background(), "a1")
	require.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Equal(t, p.ResolveAttempts, flaky.closeCalled)

	a, err := store.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.Empty(t, f.pub.ofType(domain.EventAuctionStatus))
}

func TestScheduler_ResolveInactiveAuction(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	_, err := f.scheduler.Resolve(ctx, "a1")
	require.NoError(t, err)

	_, err = f.scheduler.Resolve(ctx, "a1")
	require.ErrorIs(t, err, domain.ErrAuctionInactive)
	assert.Len(t, f.pub.ofType(domain.EventAuctionStatus), 1)

	_, err = f.scheduler.Resolve(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestScheduler_RestartReplacesCountdown(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	f := newFixture(t, p)

	seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	f.scheduler.Start("a1", p.units(500))
	f.scheduler.Start("a1", p.units(3))
	assert.Equal(t, 1, f.scheduler.Active())

	require.Eventually(t, func() bool {
		return len(f.pub.ofType(domain.EventAuctionStatus)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_PhaseFollowsCountdown(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	f := newFixture(t, p)

	_, ok := f.scheduler.Phase("a1")
	assert.False(t, ok, "no countdown yet")

	seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
	f.scheduler.Start("a1", p.units(40))

	phase, ok := f.scheduler.Phase("a1")
	require.True(t, ok)
	assert.Equal(t, PhaseRunning, phase)

	require.Eventually(t, func() bool {
		ph, ok := f.scheduler.Phase("a1")
		return ok && ph == PhaseWarning10
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, f.scheduler.Stop("a1"))
	_, ok = f.scheduler.Phase("a1")
	assert.False(t, ok)
}

type alertLog struct {
	mu     sync.Mutex
	events []string
}

func (a *alertLog) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *alertLog) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func TestScheduler_Alerts(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	t.Run("resolved", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, p)
		alerts := &alertLog{}
		f.scheduler.WithAlerter(alerts)

		seedAuction(t, f.store, "a1", 100000, 25000, time.Now().Add(time.Hour))
		_, err := f.scheduler.Resolve(context.Background(), "a1")
		require.NoError(t, err)
		assert.Equal(t, []string{AlertAuctionResolved}, alerts.seen())
	})

	t.Run("resolution_failed", func(t *testing.T) {
		t.Parallel()
		store := memory.New()
		f := newFixtureWithStore(t, p, store, &flakyStore{Store: store, closeFails: 100})
		alerts := &alertLog{}
		f.scheduler.WithAlerter(alerts)

		seedAuction(t, store, "a1", 100000, 25000, time.Now().Add(time.Hour))
		f.scheduler.Start("a1", p.units(1))

		require.Eventually(t, func() bool {
			return len(alerts.seen()) == 1
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, AlertResolutionFailed, alerts.seen()[0])
		assert.Zero(t, f.scheduler.Active())
	})
}

func TestScheduler_StartAfterShutdownIsIgnored(t *testing.T) {
	t.Parallel()
	p := testPolicy()
	s := memory.New()
	pub := newRecorder()
	sched := NewScheduler(p, s, NewLedger(s, s), pub, discardLogger())
	seedAuction(t, s, "a1", 100000, 25000, time.Now().Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	sched.Start("a1", p.units(2))
	assert.Zero(t, sched.Active())
	time.Sleep(p.units(4))
	assert.Empty(t, pub.all())

	a, err := s.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, a.Active)
}
