package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/retry"
)

// Alerter forwards operator alerts, e.g. to Telegram or Discord.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Alert event names.
const (
	AlertAuctionResolved  = "auction_resolved"
	AlertResolutionFailed = "resolution_failed"
	AlertCountdownFailed  = "countdown_failed"
)

// Scheduler owns one countdown goroutine per active auction. It publishes
// progress and warning events and resolves the auction exactly once when the
// countdown reaches zero.
type Scheduler struct {
	policy    Policy
	auctions  domain.AuctionStore
	ledger    *Ledger
	publisher domain.EventPublisher
	alerter   Alerter
	audit     domain.AuditStore
	logger    *slog.Logger

	// guard enters the auction's exclusive section; set by the Coordinator.
	guard func(ctx context.Context, auctionID string) (func(), error)

	mu         sync.Mutex
	countdowns map[string]*countdown
	root       context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler creates a Scheduler. Countdowns started before Run is called
// keep running until Run's context ends or they are stopped.
func NewScheduler(policy Policy, auctions domain.AuctionStore, ledger *Ledger, publisher domain.EventPublisher, logger *slog.Logger) *Scheduler {
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		policy:     policy,
		auctions:   auctions,
		ledger:     ledger,
		publisher:  publisher,
		logger:     logger.With(slog.String("component", "scheduler")),
		countdowns: make(map[string]*countdown),
		root:       root,
		cancelRoot: cancel,
		guard: func(context.Context, string) (func(), error) {
			return func() {}, nil
		},
	}
}

// WithAlerter sets the operator alert sink.
func (s *Scheduler) WithAlerter(a Alerter) *Scheduler {
	s.alerter = a
	return s
}

// WithAudit sets the audit log.
func (s *Scheduler) WithAudit(a domain.AuditStore) *Scheduler {
	s.audit = a
	return s
}

// Run blocks until ctx is done, then cancels every countdown without
// resolving and waits for their goroutines to exit.
func (s *Scheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	s.cancelRoot()

	s.mu.Lock()
	for id, cd := range s.countdowns {
		cd.mu.Lock()
		cd.stopped = true
		cd.mu.Unlock()
		delete(s.countdowns, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// Start begins a countdown of duration d for the auction. An existing
// countdown for the same auction is stopped first. Start is a no-op once Run
// has returned or is shutting down.
func (s *Scheduler) Start(auctionID string, d time.Duration) {
	end := time.Now().Add(d)
	total := s.policy.toUnits(d)

	s.mu.Lock()
	if s.root.Err() != nil {
		s.mu.Unlock()
		s.logger.Warn("countdown not started, scheduler stopped", slog.String("auction_id", auctionID))
		return
	}
	if old, ok := s.countdowns[auctionID]; ok {
		s.stopLocked(old)
	}
	ctx, cancel := context.WithCancel(s.root)
	cd := newCountdown(auctionID, end, total, s.policy)
	cd.cancel = cancel
	s.countdowns[auctionID] = cd
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("countdown started",
		slog.String("auction_id", auctionID),
		slog.Int64("total", total),
		slog.Time("end", end),
	)
	go s.run(ctx, cd)
}

// Extend adds n units to the live countdown and publishes timer_extended.
// It returns the new end time, or ErrCountdownNotFound when the auction has
// no live countdown.
func (s *Scheduler) Extend(ctx context.Context, auctionID string, n int64) (time.Time, error) {
	cd := s.lookup(auctionID)
	if cd == nil {
		return time.Time{}, fmt.Errorf("scheduler: extend %s: %w", auctionID, domain.ErrCountdownNotFound)
	}

	cd.mu.Lock()
	defer cd.mu.Unlock()
	if cd.stopped {
		return time.Time{}, fmt.Errorf("scheduler: extend %s: %w", auctionID, domain.ErrCountdownNotFound)
	}
	end := cd.extend(n, s.policy)
	s.publish(ctx, auctionID, domain.TimerExtendedEvent(auctionID, n, end, time.Now()))

	s.logger.Info("countdown extended",
		slog.String("auction_id", auctionID),
		slog.Int64("additional", n),
		slog.Time("new_end", end),
	)
	return end, nil
}

// Stop cancels the countdown without resolving. It reports whether a live
// countdown existed. No tick event is published after Stop returns.
func (s *Scheduler) Stop(auctionID string) bool {
	s.mu.Lock()
	cd, ok := s.countdowns[auctionID]
	if ok {
		s.stopLocked(cd)
	}
	s.mu.Unlock()
	if ok {
		s.logger.Info("countdown stopped", slog.String("auction_id", auctionID))
	}
	return ok
}

// stopLocked requires s.mu.
func (s *Scheduler) stopLocked(cd *countdown) {
	delete(s.countdowns, cd.auctionID)
	cd.mu.Lock()
	cd.stopped = true
	cd.mu.Unlock()
	cd.cancel()
}

// Remaining returns the time left on the auction's countdown.
func (s *Scheduler) Remaining(auctionID string) (time.Duration, bool) {
	cd := s.lookup(auctionID)
	if cd == nil {
		return 0, false
	}
	cd.mu.Lock()
	defer cd.mu.Unlock()
	if cd.stopped {
		return 0, false
	}
	return max(time.Until(cd.end), 0), true
}

// Phase returns the countdown's current phase.
func (s *Scheduler) Phase(auctionID string) (Phase, bool) {
	cd := s.lookup(auctionID)
	if cd == nil {
		return 0, false
	}
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.phase, true
}

// Active returns the number of live countdowns.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.countdowns)
}

func (s *Scheduler) lookup(auctionID string) *countdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countdowns[auctionID]
}

// discard removes cd from the registry if it is still the registered one.
func (s *Scheduler) discard(cd *countdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.countdowns[cd.auctionID]; ok && cur == cd {
		delete(s.countdowns, cd.auctionID)
	}
}

func (s *Scheduler) run(ctx context.Context, cd *countdown) {
	defer s.wg.Done()
	defer close(cd.done)
	defer func() {
		if r := recover(); r != nil {
			s.discard(cd)
			s.logger.Error("countdown crashed",
				slog.String("auction_id", cd.auctionID),
				slog.Any("panic", r),
			)
			s.alert(context.WithoutCancel(ctx), AlertCountdownFailed, "Countdown failed",
				fmt.Sprintf("Countdown for auction %s crashed and needs manual resolution: %v", cd.auctionID, r))
		}
	}()

	for {
		cd.mu.Lock()
		if cd.stopped {
			cd.mu.Unlock()
			return
		}
		st := cd.evaluate(time.Now(), s.policy)
		if st.resolve {
			cd.stopped = true
			cd.mu.Unlock()
			s.discard(cd)
			s.finish(ctx, cd.auctionID)
			return
		}
		for _, evt := range st.events {
			s.publish(ctx, cd.auctionID, evt)
		}
		cd.mu.Unlock()

		if err := retry.Sleep(ctx, time.Until(st.next)); err != nil {
			return
		}
	}
}

// finish resolves an auction whose countdown reached zero.
func (s *Scheduler) finish(ctx context.Context, auctionID string) {
	_, err := s.Resolve(ctx, auctionID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAuctionInactive):
		s.logger.Info("auction already closed at countdown end", slog.String("auction_id", auctionID))
	default:
		s.logger.Error("auction resolution failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		s.alert(context.WithoutCancel(ctx), AlertResolutionFailed, "Auction resolution failed",
			fmt.Sprintf("Auction %s could not be resolved and remains in its last known state: %v", auctionID, err))
	}
}

// Resolve closes the auction: it reads the current winner, marks the auction
// inactive with its final price and publishes auction_status "ended".
// Transient store errors are retried with backoff; on persistent failure the
// auction is left untouched. Resolving an inactive auction fails with
// ErrAuctionInactive.
func (s *Scheduler) Resolve(ctx context.Context, auctionID string) (domain.Resolution, error) {
	var res domain.Resolution
	err := retry.Do(ctx, s.policy.ResolveAttempts, s.policy.ResolveBackoff, isTransient,
		func(ctx context.Context) error {
			r, err := s.resolveOnce(ctx, auctionID)
			if err != nil {
				if isTransient(err) {
					s.logger.Warn("resolution attempt failed",
						slog.String("auction_id", auctionID),
						slog.String("error", err.Error()),
					)
				}
				return err
			}
			res = r
			return nil
		})
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("scheduler: resolve %s: %w", auctionID, err)
	}

	if res.Winner != nil {
		s.notifyWinner(ctx, res)
	}
	s.auditLog(ctx, "auction.resolved", res)
	s.alert(ctx, AlertAuctionResolved, "Auction resolved", describeResolution(res))
	s.logger.Info("auction resolved",
		slog.String("auction_id", auctionID),
		slog.Int64("final_price", res.FinalPrice),
		slog.Bool("has_winner", res.Winner != nil),
	)
	return res, nil
}

func (s *Scheduler) resolveOnce(ctx context.Context, auctionID string) (domain.Resolution, error) {
	unlock, err := s.guard(ctx, auctionID)
	if err != nil {
		return domain.Resolution{}, err
	}
	defer unlock()

	a, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return domain.Resolution{}, storeErr("get auction", auctionID, err)
	}
	if !a.Active {
		return domain.Resolution{}, domain.ErrAuctionInactive
	}

	winner, ok, err := s.ledger.CurrentWinner(ctx, auctionID)
	if err != nil {
		return domain.Resolution{}, err
	}

	now := time.Now().UTC()
	res := domain.Resolution{
		AuctionID:  auctionID,
		Status:     domain.AuctionStatusEnded,
		FinalPrice: a.CurrentPrice,
		ResolvedAt: now,
	}
	var winnerID string
	if ok {
		res.Winner = &winner
		res.FinalPrice = winner.Amount
		winnerID = winner.BidderID
	}

	inactive := false
	if _, err := s.auctions.UpdateAuction(ctx, auctionID, domain.AuctionUpdate{
		Active:     &inactive,
		WinnerID:   &winnerID,
		FinalPrice: &res.FinalPrice,
		EndTime:    &now,
	}); err != nil {
		return domain.Resolution{}, storeErr("close auction", auctionID, err)
	}

	s.publish(ctx, auctionID, domain.AuctionStatusEvent(res))
	return res, nil
}

func (s *Scheduler) notifyWinner(ctx context.Context, res domain.Resolution) {
	msg := fmt.Sprintf("Congratulations! You won auction %s with a bid of %d", res.AuctionID, res.Winner.Amount)
	evt := domain.NotificationEvent(domain.NotificationWon, msg, res.ResolvedAt)
	if err := s.publisher.PublishToSubscriber(ctx, res.Winner.BidderID, evt); err != nil {
		s.logger.Debug("winner notification not delivered",
			slog.String("auction_id", res.AuctionID),
			slog.String("user_id", res.Winner.BidderID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) publish(ctx context.Context, auctionID string, evt domain.Event) {
	if err := s.publisher.PublishToAuction(ctx, auctionID, evt); err != nil {
		s.logger.Warn("publish failed",
			slog.String("auction_id", auctionID),
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) auditLog(ctx context.Context, event string, res domain.Resolution) {
	if s.audit == nil {
		return
	}
	detail := map[string]any{
		"auction_id":  res.AuctionID,
		"status":      string(res.Status),
		"final_price": res.FinalPrice,
	}
	if res.Winner != nil {
		detail["winner_id"] = res.Winner.BidderID
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *Scheduler) alert(ctx context.Context, event, title, message string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Notify(ctx, event, title, message); err != nil {
		s.logger.Warn("alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func describeResolution(res domain.Resolution) string {
	if res.Winner == nil {
		return fmt.Sprintf("Auction %s %s with no bids at %d", res.AuctionID, res.Status, res.FinalPrice)
	}
	return fmt.Sprintf("Auction %s %s: %s (%s) won at %d",
		res.AuctionID, res.Status, res.Winner.Username, res.Winner.BidderID, res.FinalPrice)
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrTransientStore)
}
