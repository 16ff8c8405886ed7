package auction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

func TestLedger_PlaceBid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		seed    func(t *testing.T, s *memory.Store)
		amount  int64
		wantErr error
		wantMin int64
	}{
		{
			name:    "below_minimum",
			seed:    func(t *testing.T, s *memory.Store) { seedAuction(t, s, "a", 100000, 25000, future) },
			amount:  120000,
			wantErr: domain.ErrBidTooLow,
			wantMin: 125000,
		},
		{
			name:   "exact_minimum",
			seed:   func(t *testing.T, s *memory.Store) { seedAuction(t, s, "a", 100000, 25000, future) },
			amount: 125000,
		},
		{
			name: "inactive",
			seed: func(t *testing.T, s *memory.Store) {
				seedAuction(t, s, "a", 100000, 25000, future)
				off := false
				_, err := s.UpdateAuction(ctx, "a", domain.AuctionUpdate{Active: &off})
				require.NoError(t, err)
			},
			amount:  500000,
			wantErr: domain.ErrAuctionInactive,
		},
		{
			name:    "expired",
			seed:    func(t *testing.T, s *memory.Store) { seedAuction(t, s, "a", 100000, 25000, time.Now().Add(-time.Second)) },
			amount:  500000,
			wantErr: domain.ErrAuctionExpired,
		},
		{
			name:    "missing_auction",
			seed:    func(*testing.T, *memory.Store) {},
			amount:  500000,
			wantErr: domain.ErrAuctionNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := memory.New()
			tc.seed(t, s)
			l := NewLedger(s, s)

			placed, err := l.PlaceBid(ctx, "a", "u1", "alice", tc.amount)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				if tc.wantMin > 0 {
					var be *domain.BidError
					require.True(t, errors.As(err, &be))
					assert.Equal(t, tc.wantMin, be.MinimumBid)
				}
				n, cerr := s.CountBids(ctx, domain.BidFilter{AuctionID: "a"})
				require.NoError(t, cerr)
				assert.Zero(t, n, "rejected bids must not be stored")
				return
			}
			require.NoError(t, err)
			assert.True(t, placed.Bid.Winning)
			assert.Equal(t, tc.amount, placed.Auction.CurrentPrice)
			assert.Equal(t, "u1", placed.Auction.LeadingBidderID)
			assert.Empty(t, placed.PreviousLeader)
		})
	}
}

func TestLedger_SupersedesPreviousWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	seedAuction(t, s, "a", 100000, 25000, time.Now().Add(time.Hour))
	l := NewLedger(s, s)

	first, err := l.PlaceBid(ctx, "a", "u1", "alice", 125000)
	require.NoError(t, err)
	second, err := l.PlaceBid(ctx, "a", "u2", "bob", 150000)
	require.NoError(t, err)
	assert.Equal(t, "u1", second.PreviousLeader)

	bids, err := s.ListBids(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, second.Bid.ID, bids[0].ID)
	assert.True(t, bids[0].Winning)
	assert.Equal(t, first.Bid.ID, bids[1].ID)
	assert.False(t, bids[1].Winning)

	n, err := s.CountBids(ctx, domain.BidFilter{AuctionID: "a", WinningOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	w, ok, err := l.CurrentWinner(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Winner{BidderID: "u2", Username: "bob", Amount: 150000}, w)
}

func TestLedger_CurrentWinnerNone(t *testing.T) {
	t.Parallel()
	s := memory.New()
	seedAuction(t, s, "a", 100000, 25000, time.Now().Add(time.Hour))

	_, ok, err := NewLedger(s, s).CurrentWinner(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

// failingCommit rejects every commit with a transient store error.
type failingCommit struct {
	*memory.Store
}

func (f failingCommit) CommitBid(context.Context, domain.Bid) (domain.Auction, error) {
	return domain.Auction{}, fmt.Errorf("commit: %w", domain.ErrTransientStore)
}

func TestLedger_FailedCommitKeepsPreviousWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	seedAuction(t, s, "a", 100000, 25000, time.Now().Add(time.Hour))

	_, err := NewLedger(s, s).PlaceBid(ctx, "a", "u1", "alice", 125000)
	require.NoError(t, err)

	l := NewLedger(s, failingCommit{s})
	_, err = l.PlaceBid(ctx, "a", "u2", "bob", 150000)
	require.ErrorIs(t, err, domain.ErrTransientStore)

	a, err := s.GetAuction(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(125000), a.CurrentPrice)
	assert.Equal(t, "u1", a.LeadingBidderID)

	w, ok, err := l.CurrentWinner(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Winner{BidderID: "u1", Username: "alice", Amount: 125000}, w)

	n, err := s.CountBids(ctx, domain.BidFilter{AuctionID: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
