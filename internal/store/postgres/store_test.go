package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// testClient connects to AUCTIOND_TEST_POSTGRES_DSN and migrates, or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("AUCTIOND_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUCTIOND_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	t.Cleanup(c.Close)
	return c
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
	assert.IsNonDecreasing(t, names)
}

func TestAuctionAndBidStores(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	auctions := NewAuctionStore(c.Pool())
	bids := NewBidStore(c.Pool())

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := domain.Auction{
		ID:           uuid.NewString(),
		TournamentID: "t-" + uuid.NewString(),
		ItemID:       "item",
		CurrentPrice: 100000,
		Active:       true,
		StartTime:    now,
		EndTime:      now.Add(time.Hour),
		MinIncrement: 25000,
	}
	require.NoError(t, auctions.CreateAuction(ctx, a))
	require.ErrorIs(t, auctions.CreateAuction(ctx, a), domain.ErrAlreadyExists)

	got, err := auctions.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got.CurrentPrice)
	assert.Nil(t, got.FinalPrice)

	_, err = auctions.GetAuction(ctx, uuid.NewString())
	require.ErrorIs(t, err, domain.ErrNotFound)

	first := domain.Bid{ID: uuid.NewString(), AuctionID: a.ID, BidderID: "u1", Username: "alice", Amount: 125000, Timestamp: now, Winning: true}
	require.NoError(t, bids.InsertBid(ctx, first))

	n, err := bids.UpdateBidsWinningFlag(ctx, a.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	second := domain.Bid{ID: uuid.NewString(), AuctionID: a.ID, BidderID: "u2", Username: "bob", Amount: 150000, Timestamp: now.Add(time.Second), Winning: true}
	require.NoError(t, bids.InsertBid(ctx, second))

	win, err := bids.GetWinningBid(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, win.ID)

	list, err := bids.ListBids(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	count, err := bids.CountBids(ctx, domain.BidFilter{AuctionID: a.ID, WinningOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	orphan := domain.Bid{ID: uuid.NewString(), AuctionID: uuid.NewString(), BidderID: "u1", Amount: 1, Timestamp: now}
	require.ErrorIs(t, bids.InsertBid(ctx, orphan), domain.ErrNotFound)

	off := false
	price := int64(150000)
	winner := "u2"
	updated, err := auctions.UpdateAuction(ctx, a.ID, domain.AuctionUpdate{Active: &off, FinalPrice: &price, WinnerID: &winner, EndTime: &now})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	require.NotNil(t, updated.FinalPrice)
	assert.Equal(t, price, *updated.FinalPrice)

	active := false
	listed, err := auctions.ListAuctions(ctx, domain.AuctionFilter{TournamentID: a.TournamentID, Active: &active})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	due, err := auctions.ListUnarchivedBefore(ctx, now.Add(time.Minute), 0)
	require.NoError(t, err)
	var found bool
	for _, d := range due {
		found = found || d.ID == a.ID
	}
	assert.True(t, found)
}

func TestAuditStore(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewAuditStore(c.Pool())

	marker := uuid.NewString()
	require.NoError(t, s.Log(ctx, "auction_opened", map[string]any{"auction_id": marker}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "auction_opened", entries[0].Event)
	assert.Equal(t, marker, entries[0].Detail["auction_id"])
}

func TestBidStore_CommitBid(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	auctions := NewAuctionStore(c.Pool())
	bids := NewBidStore(c.Pool())

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := domain.Auction{
		ID: uuid.NewString(), ItemID: "item", CurrentPrice: 100000, Active: true,
		StartTime: now, EndTime: now.Add(time.Hour), MinIncrement: 25000,
	}
	require.NoError(t, auctions.CreateAuction(ctx, a))

	first := domain.Bid{ID: uuid.NewString(), AuctionID: a.ID, BidderID: "u1", Username: "alice", Amount: 125000, Timestamp: now}
	got, err := bids.CommitBid(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(125000), got.CurrentPrice)
	assert.Equal(t, "u1", got.LeadingBidderID)

	// A duplicate id fails inside the transaction after the flag update.
	dup := first
	dup.BidderID, dup.Amount = "u2", 150000
	_, err = bids.CommitBid(ctx, dup)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	win, err := bids.GetWinningBid(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, win.ID, "failed commit keeps the previous winner")
	after, err := auctions.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(125000), after.CurrentPrice)
	assert.Equal(t, "u1", after.LeadingBidderID)

	_, err = bids.CommitBid(ctx, domain.Bid{ID: uuid.NewString(), AuctionID: uuid.NewString(), BidderID: "u3", Amount: 1, Timestamp: now})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
