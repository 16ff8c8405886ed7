package auction

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/retry"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

// recorder captures published events in order.
type recorder struct {
	mu       sync.Mutex
	room     []domain.Event
	personal map[string][]domain.Event
}

func newRecorder() *recorder {
	return &recorder{personal: make(map[string][]domain.Event)}
}

func (r *recorder) PublishToAuction(_ context.Context, _ string, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room = append(r.room, evt)
	return nil
}

func (r *recorder) PublishToSubscriber(_ context.Context, subscriberID string, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personal[subscriberID] = append(r.personal[subscriberID], evt)
	return nil
}

func (r *recorder) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.room {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.room...)
}

func (r *recorder) personalFor(id string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.personal[id]...)
}

// flakyStore fails auction closes with a transient error a set number of
// times.
type flakyStore struct {
	*memory.Store
	mu          sync.Mutex
	closeFails  int
	closeCalled int
}

func (f *flakyStore) UpdateAuction(ctx context.Context, id string, u domain.AuctionUpdate) (domain.Auction, error) {
	if u.Active != nil && !*u.Active {
		f.mu.Lock()
		f.closeCalled++
		if f.closeFails > 0 {
			f.closeFails--
			f.mu.Unlock()
			return domain.Auction{}, fmt.Errorf("flaky: update %s: %w", id, domain.ErrTransientStore)
		}
		f.mu.Unlock()
	}
	return f.Store.UpdateAuction(ctx, id, u)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPolicy shrinks the time unit to 10ms so countdown behaviour can be
// observed in real time.
func testPolicy() Policy {
	p := DefaultPolicy()
	p.Unit = 10 * time.Millisecond
	p.ResolveAttempts = 3
	p.ResolveBackoff = retry.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
	return p
}

type fixture struct {
	store     *memory.Store
	pub       *recorder
	ledger    *Ledger
	scheduler *Scheduler
	coord     *Coordinator
}

func newFixture(t *testing.T, p Policy) *fixture {
	t.Helper()
	return newFixtureWithStore(t, p, memory.New(), nil)
}

// newFixtureWithStore builds the components over store; auctions overrides
// the auction store when non-nil.
func newFixtureWithStore(t *testing.T, p Policy, store *memory.Store, auctions domain.AuctionStore) *fixture {
	t.Helper()
	if auctions == nil {
		auctions = store
	}
	pub := newRecorder()
	logger := discardLogger()
	ledger := NewLedger(auctions, store)
	sched := NewScheduler(p, auctions, ledger, pub, logger).WithAudit(store)
	coord := NewCoordinator(p, auctions, store, ledger, sched, pub, logger).WithAudit(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{store: store, pub: pub, ledger: ledger, scheduler: sched, coord: coord}
}

func seedAuction(t *testing.T, s domain.AuctionStore, id string, price, increment int64, end time.Time) domain.Auction {
	t.Helper()
	now := time.Now().UTC()
	a := domain.Auction{
		ID:           id,
		TournamentID: "t1",
		ItemID:       "item-" + id,
		CurrentPrice: price,
		Active:       true,
		StartTime:    now,
		EndTime:      end,
		MinIncrement: increment,
		CreatedAt:    now,
	}
	require.NoError(t, s.CreateAuction(context.Background(), a))
	return a
}
