package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Placement is the result of a committed bid.
type Placement struct {
	Bid     domain.Bid
	Auction domain.Auction // state after the commit
	// PreviousLeader is the bidder who led before this bid, if any.
	PreviousLeader string
}

// Ledger validates and commits bids. Callers must hold the auction's
// exclusive section; the Ledger itself does no locking.
type Ledger struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	now      func() time.Time
}

// NewLedger creates a Ledger over the given stores.
func NewLedger(auctions domain.AuctionStore, bids domain.BidStore) *Ledger {
	return &Ledger{auctions: auctions, bids: bids, now: time.Now}
}

// PlaceBid checks the auction is active, unexpired and that amount reaches
// current price plus the minimum increment, then commits the bid as the new
// winner in one store operation. A failed commit leaves the auction as it was.
func (l *Ledger) PlaceBid(ctx context.Context, auctionID, bidderID, username string, amount int64) (Placement, error) {
	a, err := l.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return Placement{}, storeErr("get auction", auctionID, err)
	}

	now := l.now().UTC()
	switch {
	case !a.Active:
		return Placement{}, fmt.Errorf("ledger: auction %s: %w", auctionID, domain.ErrAuctionInactive)
	case now.After(a.EndTime):
		return Placement{}, fmt.Errorf("ledger: auction %s: %w", auctionID, domain.ErrAuctionExpired)
	case amount < a.MinimumBid():
		return Placement{}, &domain.BidError{Amount: amount, MinimumBid: a.MinimumBid()}
	}

	bid := domain.Bid{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Username:  username,
		Amount:    amount,
		Timestamp: now,
		Winning:   true,
	}

	updated, err := l.bids.CommitBid(ctx, bid)
	if err != nil {
		return Placement{}, storeErr("commit bid", auctionID, err)
	}

	return Placement{Bid: bid, Auction: updated, PreviousLeader: a.LeadingBidderID}, nil
}

// CurrentWinner returns the auction's winning bid. The boolean is false when
// no bid has been accepted.
func (l *Ledger) CurrentWinner(ctx context.Context, auctionID string) (domain.Winner, bool, error) {
	b, err := l.bids.GetWinningBid(ctx, auctionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Winner{}, false, nil
	}
	if err != nil {
		return domain.Winner{}, false, fmt.Errorf("ledger: current winner for %s: %w", auctionID, err)
	}
	return domain.Winner{BidderID: b.BidderID, Username: b.Username, Amount: b.Amount}, true, nil
}

// storeErr maps a missing auction row to ErrAuctionNotFound and wraps
// everything else unchanged.
func storeErr(op, auctionID string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("auction %s: %w", auctionID, domain.ErrAuctionNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, auctionID, err)
}
