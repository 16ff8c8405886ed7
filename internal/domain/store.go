package domain

import (
	"context"
	"time"
)

// AuctionStore persists auctions.
type AuctionStore interface {
	CreateAuction(ctx context.Context, a Auction) error
	GetAuction(ctx context.Context, id string) (Auction, error)
	UpdateAuction(ctx context.Context, id string, u AuctionUpdate) (Auction, error)
	ListAuctions(ctx context.Context, f AuctionFilter) ([]Auction, error)
	// ListUnarchivedBefore returns inactive auctions that ended before the
	// cutoff and have not been archived yet.
	ListUnarchivedBefore(ctx context.Context, before time.Time, limit int) ([]Auction, error)
}

// BidStore persists bids. The winning flag is the only mutable field.
type BidStore interface {
	InsertBid(ctx context.Context, b Bid) error
	// UpdateBidsWinningFlag sets the winning flag on every bid of the auction
	// except exceptBidID and returns the number of rows changed.
	UpdateBidsWinningFlag(ctx context.Context, auctionID, exceptBidID string, winning bool) (int64, error)
	// CommitBid clears the winning flag on the auction's other bids, inserts
	// b as the winning bid and moves the auction's current price and leader
	// to b, as one unit. On error nothing is changed.
	CommitBid(ctx context.Context, b Bid) (Auction, error)
	GetWinningBid(ctx context.Context, auctionID string) (Bid, error)
	// ListBids returns bids newest first. A limit of zero returns all bids.
	ListBids(ctx context.Context, auctionID string, limit int) ([]Bid, error)
	CountBids(ctx context.Context, f BidFilter) (int64, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
