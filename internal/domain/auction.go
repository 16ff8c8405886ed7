package domain

import "time"

// AuctionStatus is the terminal status carried by auction_status events.
type AuctionStatus string

const (
	AuctionStatusEnded   AuctionStatus = "ended"
	AuctionStatusStopped AuctionStatus = "stopped"
)

// Auction is a timed competition for one item. CurrentPrice never decreases
// over the auction's lifetime and LeadingBidderID is empty until the first
// accepted bid.
type Auction struct {
	ID              string     `json:"id"`
	TournamentID    string     `json:"tournament_id"`
	ItemID          string     `json:"item_id"`
	CurrentPrice    int64      `json:"current_price"`
	LeadingBidderID string     `json:"leading_bidder_id,omitempty"`
	Active          bool       `json:"is_active"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	MinIncrement    int64      `json:"min_increment"`
	WinnerID        string     `json:"winner_id,omitempty"`
	FinalPrice      *int64     `json:"final_price,omitempty"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// MinimumBid returns the smallest amount the auction currently accepts.
func (a Auction) MinimumBid() int64 {
	return a.CurrentPrice + a.MinIncrement
}

// AuctionUpdate is a partial update; nil fields are left untouched.
type AuctionUpdate struct {
	CurrentPrice    *int64
	LeadingBidderID *string
	Active          *bool
	EndTime         *time.Time
	WinnerID        *string
	FinalPrice      *int64
	ArchivedAt      *time.Time
}

// AuctionFilter narrows ListAuctions. An empty filter returns every auction.
type AuctionFilter struct {
	TournamentID string
	Active       *bool
	Limit        int
}

// Bid is an accepted bid. Only Winning changes after insertion.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"user_id"`
	Username  string    `json:"username"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Winning   bool      `json:"is_winning"`
}

// BidFilter narrows CountBids.
type BidFilter struct {
	AuctionID   string
	BidderID    string
	WinningOnly bool
}

// Winner is the leading bid at resolution time.
type Winner struct {
	BidderID string `json:"user_id"`
	Username string `json:"username"`
	Amount   int64  `json:"winning_bid"`
}

// Resolution is the outcome of closing an auction.
type Resolution struct {
	AuctionID  string        `json:"auction_id"`
	Status     AuctionStatus `json:"status"`
	Winner     *Winner       `json:"winner,omitempty"`
	FinalPrice int64         `json:"final_price"`
	ResolvedAt time.Time     `json:"resolved_at"`
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}
