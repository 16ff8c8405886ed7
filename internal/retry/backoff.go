// Package retry provides bounded retries with exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes exponentially growing waits with optional jitter.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff provides conservative defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the backoff duration for the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	lo := b.Min
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	hi := b.Max
	if hi <= 0 {
		hi = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := lo
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > hi {
			wait = hi
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := min(b.Jitter, 1)
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// Do calls fn until it succeeds, attempts are exhausted, retryable reports
// false for the returned error, or ctx is done. The last error is returned.
func Do(ctx context.Context, attempts int, b Backoff, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || (retryable != nil && !retryable(err)) {
			return err
		}
		if werr := Sleep(ctx, b.Next(attempt)); werr != nil {
			return err
		}
	}
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
