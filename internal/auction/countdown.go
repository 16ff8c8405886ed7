package auction

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Phase is the countdown state. Phases only move forward; extensions add
// time without changing the phase.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseWarning30
	PhaseWarning10
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseWarning30:
		return "warning30"
	case PhaseWarning10:
		return "warning10"
	case PhaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// countdown is the live timer state of one auction. end is authoritative;
// remaining time is always derived from it.
type countdown struct {
	auctionID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	end     time.Time
	total   int64
	phase   Phase
	stopped bool
}

// step is the outcome of evaluating a countdown at one instant.
type step struct {
	remaining int64
	events    []domain.Event
	next      time.Time
	resolve   bool
}

func newCountdown(auctionID string, end time.Time, total int64, p Policy) *countdown {
	phase := PhaseRunning
	switch {
	case total < p.FinalWarningAt:
		phase = PhaseWarning10
	case total < p.WarningAt:
		phase = PhaseWarning30
	}
	return &countdown{
		auctionID: auctionID,
		done:      make(chan struct{}),
		end:       end,
		total:     total,
		phase:     phase,
	}
}

// evaluate advances the state machine to now and reports what to publish
// and when to look again. Callers hold c.mu.
func (c *countdown) evaluate(now time.Time, p Policy) step {
	remaining := p.toUnits(c.end.Sub(now))
	if remaining <= 0 {
		c.phase = PhaseResolved
		return step{resolve: true}
	}

	events := []domain.Event{domain.TimerUpdateEvent(c.auctionID, remaining, c.total, now)}
	if c.phase < PhaseWarning30 && remaining <= p.WarningAt && remaining > p.FinalWarningAt {
		c.phase = PhaseWarning30
		events = append(events, domain.TimerWarningEvent(c.auctionID, now))
	}
	if c.phase < PhaseWarning10 && remaining <= p.FinalWarningAt {
		c.phase = PhaseWarning10
		events = append(events, domain.TimerFinalWarningEvent(c.auctionID, now))
	}

	wait := cadence(remaining, p)
	return step{
		remaining: remaining,
		events:    events,
		next:      c.end.Add(-p.units(remaining - wait)),
	}
}

// extend pushes the end out by n units. Callers hold c.mu.
func (c *countdown) extend(n int64, p Policy) time.Time {
	c.end = c.end.Add(p.units(n))
	c.total += n
	return c.end
}

// cadence picks the wait until the next broadcast so that ticks land exactly
// on the warning thresholds.
func cadence(remaining int64, p Policy) int64 {
	if remaining <= p.FinalWarningAt {
		return p.FastCadence
	}
	wait := p.SlowCadence
	for _, mark := range []int64{p.WarningAt, p.FinalWarningAt} {
		if remaining > mark && remaining-wait < mark {
			wait = remaining - mark
		}
	}
	return wait
}
