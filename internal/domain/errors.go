package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionInactive   = errors.New("auction is not active")
	ErrAuctionExpired    = errors.New("auction has expired")
	ErrBidTooLow         = errors.New("bid too low")
	ErrValidation        = errors.New("validation failed")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrTransientStore    = errors.New("transient store failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrCountdownNotFound = errors.New("countdown not found")
)

// BidError reports a rejected bid together with the smallest amount that
// would have been accepted at the time of the check.
type BidError struct {
	Amount     int64
	MinimumBid int64
}

func (e *BidError) Error() string {
	return fmt.Sprintf("bid too low: minimum bid is %d, got %d", e.MinimumBid, e.Amount)
}

func (e *BidError) Unwrap() error { return ErrBidTooLow }
