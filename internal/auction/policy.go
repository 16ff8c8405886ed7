// Package auction implements live timed auctions: the per-auction
// Coordinator that serializes bids, the Ledger that enforces price and
// winner invariants, and the Scheduler that drives each auction's countdown.
package auction

import (
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/retry"
)

// Policy holds the timing and bidding rules. Counts such as WarningAt are
// expressed in time units of length Unit.
type Policy struct {
	Unit time.Duration

	SlowCadence    int64 // broadcast interval while remaining > FinalWarningAt
	FastCadence    int64 // broadcast interval once remaining <= FinalWarningAt
	WarningAt      int64
	FinalWarningAt int64

	AntiSnipeWindow int64
	Extension       int64
	// MaxLifetime caps start-to-end duration including extensions. Zero means
	// unbounded.
	MaxLifetime time.Duration

	DefaultMinIncrement int64
	DefaultDuration     time.Duration

	ResolveAttempts int
	ResolveBackoff  retry.Backoff

	LockTTL      time.Duration
	LockAttempts int
	LockBackoff  retry.Backoff
}

// DefaultPolicy returns the production rules: one-second units, 5s/1s
// cadence, warnings at 30 and 10, and a 30 unit anti-snipe extension.
func DefaultPolicy() Policy {
	return Policy{
		Unit:                time.Second,
		SlowCadence:         5,
		FastCadence:         1,
		WarningAt:           30,
		FinalWarningAt:      10,
		AntiSnipeWindow:     30,
		Extension:           30,
		DefaultMinIncrement: 25000,
		DefaultDuration:     180 * time.Minute,
		ResolveAttempts:     5,
		ResolveBackoff:      retry.DefaultBackoff(),
		LockTTL:             10 * time.Second,
		LockAttempts:        50,
		LockBackoff: retry.Backoff{
			Min:    10 * time.Millisecond,
			Max:    250 * time.Millisecond,
			Factor: 2,
			Jitter: 0.2,
		},
	}
}

func (p Policy) units(n int64) time.Duration {
	return time.Duration(n) * p.Unit
}

// toUnits rounds d up to whole units. Non-positive durations are zero.
func (p Policy) toUnits(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + p.Unit - 1) / p.Unit)
}
