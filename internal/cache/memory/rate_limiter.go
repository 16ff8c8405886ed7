// Package memory provides single-process stand-ins for the Redis-backed
// coordination services.
package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// idleTTL is how long an unused key keeps its limiter.
const idleTTL = 10 * time.Minute

type entry struct {
	lim      *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket: limit requests per window with a
// burst of limit. It is used when no Redis is configured.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{entries: make(map[string]*entry), now: time.Now}
}

// Allow reports whether one more request for key is permitted.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[key]
	if !ok || e.limit != limit || e.window != window {
		every := rate.Every(window / time.Duration(limit))
		e = &entry{lim: rate.NewLimiter(every, limit), limit: limit, window: window}
		r.entries[key] = e
	}
	e.lastSeen = now
	allowed := e.lim.AllowN(now, 1)

	r.sweep(now)
	return allowed, nil
}

// sweep drops limiters idle for longer than idleTTL. Callers hold r.mu.
func (r *RateLimiter) sweep(now time.Time) {
	if len(r.entries) < 1024 {
		return
	}
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) > idleTTL {
			delete(r.entries, k)
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
