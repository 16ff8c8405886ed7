package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/retry"
)

// Catalogue query limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// OpenParams describes a new auction.
type OpenParams struct {
	TournamentID  string
	ItemID        string
	StartingPrice int64
	Duration      time.Duration
	MinIncrement  int64
}

// Coordinator is the per-auction serialization point. Every mutation of an
// auction's price, winner, end time or active flag happens while holding
// that auction's exclusive section, so bids on one auction are totally
// ordered while unrelated auctions proceed in parallel.
type Coordinator struct {
	auctions  domain.AuctionStore
	bids      domain.BidStore
	ledger    *Ledger
	scheduler *Scheduler
	publisher domain.EventPublisher
	audit     domain.AuditStore
	dist      domain.LockManager
	locks     *keyedLocks
	policy    Policy
	logger    *slog.Logger
}

// NewCoordinator wires the Coordinator to its Ledger and Scheduler and makes
// the Scheduler resolve auctions inside the same exclusive section.
func NewCoordinator(
	policy Policy,
	auctions domain.AuctionStore,
	bids domain.BidStore,
	ledger *Ledger,
	scheduler *Scheduler,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		auctions:  auctions,
		bids:      bids,
		ledger:    ledger,
		scheduler: scheduler,
		publisher: publisher,
		locks:     newKeyedLocks(),
		policy:    policy,
		logger:    logger.With(slog.String("component", "coordinator")),
	}
	scheduler.guard = c.acquire
	return c
}

// WithDistributedLock additionally guards each exclusive section with a
// cross-instance lock so several processes can share one store.
func (c *Coordinator) WithDistributedLock(lm domain.LockManager) *Coordinator {
	c.dist = lm
	return c
}

// WithAudit sets the audit log.
func (c *Coordinator) WithAudit(a domain.AuditStore) *Coordinator {
	c.audit = a
	return c
}

// PlaceBid commits a bid through the Ledger. When the accepted bid lands
// inside the anti-snipe window the countdown is extended before the
// bid_update event is published. Rejected bids change nothing.
func (c *Coordinator) PlaceBid(ctx context.Context, auctionID, bidderID, username string, amount int64) (domain.Bid, error) {
	auctionID = strings.TrimSpace(auctionID)
	bidderID = strings.TrimSpace(bidderID)
	switch {
	case auctionID == "":
		return domain.Bid{}, fmt.Errorf("%w: auction id is required", domain.ErrValidation)
	case bidderID == "":
		return domain.Bid{}, fmt.Errorf("%w: bidder id is required", domain.ErrValidation)
	case amount <= 0:
		return domain.Bid{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if username = strings.TrimSpace(username); username == "" {
		username = bidderID
	}

	unlock, err := c.acquire(ctx, auctionID)
	if err != nil {
		return domain.Bid{}, err
	}
	defer unlock()

	placed, err := c.ledger.PlaceBid(ctx, auctionID, bidderID, username, amount)
	if err != nil {
		c.logger.Debug("bid rejected",
			slog.String("auction_id", auctionID),
			slog.String("user_id", bidderID),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return domain.Bid{}, err
	}

	c.maybeExtend(ctx, placed.Auction)
	c.publish(ctx, auctionID, domain.BidUpdateEvent(placed.Bid))

	if prev := placed.PreviousLeader; prev != "" && prev != bidderID {
		msg := fmt.Sprintf("You have been outbid on auction %s. New price: %d", auctionID, amount)
		evt := domain.NotificationEvent(domain.NotificationOutbid, msg, placed.Bid.Timestamp)
		if err := c.publisher.PublishToSubscriber(ctx, prev, evt); err != nil {
			c.logger.Debug("outbid notification not delivered",
				slog.String("user_id", prev),
				slog.String("error", err.Error()),
			)
		}
	}

	c.auditLog(ctx, "bid.placed", map[string]any{
		"auction_id": auctionID,
		"bid_id":     placed.Bid.ID,
		"user_id":    bidderID,
		"amount":     amount,
	})
	c.logger.Info("bid accepted",
		slog.String("auction_id", auctionID),
		slog.String("user_id", bidderID),
		slog.Int64("amount", amount),
	)
	return placed.Bid, nil
}

// maybeExtend applies the anti-snipe rule. Callers hold the exclusive section.
func (c *Coordinator) maybeExtend(ctx context.Context, a domain.Auction) {
	remaining, ok := c.scheduler.Remaining(a.ID)
	if !ok || remaining > c.policy.units(c.policy.AntiSnipeWindow) {
		return
	}

	n := c.policy.Extension
	if c.policy.MaxLifetime > 0 {
		deadline := a.StartTime.Add(c.policy.MaxLifetime)
		room := int64(deadline.Sub(time.Now().Add(remaining)) / c.policy.Unit)
		if room <= 0 {
			c.logger.Info("extension skipped, auction at max lifetime", slog.String("auction_id", a.ID))
			return
		}
		n = min(n, room)
	}

	end, err := c.scheduler.Extend(ctx, a.ID, n)
	if err != nil {
		if !errors.Is(err, domain.ErrCountdownNotFound) {
			c.logger.Warn("extend failed", slog.String("auction_id", a.ID), slog.String("error", err.Error()))
		}
		return
	}
	if _, err := c.auctions.UpdateAuction(ctx, a.ID, domain.AuctionUpdate{EndTime: &end}); err != nil {
		c.logger.Warn("persist extended end time failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

// StopAuction force-stops an active auction. The countdown is cancelled, the
// auction keeps its last committed price and leader, and auction_status
// "stopped" is published once.
func (c *Coordinator) StopAuction(ctx context.Context, auctionID string) (domain.Resolution, error) {
	if strings.TrimSpace(auctionID) == "" {
		return domain.Resolution{}, fmt.Errorf("%w: auction id is required", domain.ErrValidation)
	}

	unlock, err := c.acquire(ctx, auctionID)
	if err != nil {
		return domain.Resolution{}, err
	}
	defer unlock()

	a, err := c.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("coordinator: stop: %w", storeErr("get auction", auctionID, err))
	}
	if !a.Active {
		return domain.Resolution{}, fmt.Errorf("coordinator: stop %s: %w", auctionID, domain.ErrAuctionInactive)
	}

	c.scheduler.Stop(auctionID)

	winner, ok, err := c.ledger.CurrentWinner(ctx, auctionID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("coordinator: stop: %w", err)
	}

	now := time.Now().UTC()
	res := domain.Resolution{
		AuctionID:  auctionID,
		Status:     domain.AuctionStatusStopped,
		FinalPrice: a.CurrentPrice,
		ResolvedAt: now,
	}
	winnerID := ""
	if ok {
		res.Winner = &winner
		winnerID = winner.BidderID
	}

	inactive := false
	if _, err := c.auctions.UpdateAuction(ctx, auctionID, domain.AuctionUpdate{
		Active:     &inactive,
		WinnerID:   &winnerID,
		FinalPrice: &res.FinalPrice,
		EndTime:    &now,
	}); err != nil {
		return domain.Resolution{}, fmt.Errorf("coordinator: stop: %w", storeErr("close auction", auctionID, err))
	}

	c.publish(ctx, auctionID, domain.AuctionStatusEvent(res))
	c.auditLog(ctx, "auction.stopped", map[string]any{
		"auction_id":  auctionID,
		"final_price": res.FinalPrice,
		"winner_id":   winnerID,
	})
	c.logger.Info("auction stopped", slog.String("auction_id", auctionID))
	return res, nil
}

// OpenAuction creates an active auction and starts its countdown.
func (c *Coordinator) OpenAuction(ctx context.Context, p OpenParams) (domain.Auction, error) {
	p.ItemID = strings.TrimSpace(p.ItemID)
	switch {
	case p.ItemID == "":
		return domain.Auction{}, fmt.Errorf("%w: item id is required", domain.ErrValidation)
	case p.StartingPrice < 0:
		return domain.Auction{}, fmt.Errorf("%w: starting price must not be negative", domain.ErrValidation)
	case p.Duration < 0:
		return domain.Auction{}, fmt.Errorf("%w: duration must not be negative", domain.ErrValidation)
	case p.MinIncrement < 0:
		return domain.Auction{}, fmt.Errorf("%w: min increment must not be negative", domain.ErrValidation)
	case c.policy.MaxLifetime > 0 && p.Duration > c.policy.MaxLifetime:
		return domain.Auction{}, fmt.Errorf("%w: duration exceeds max lifetime %s", domain.ErrValidation, c.policy.MaxLifetime)
	}
	if p.Duration == 0 {
		p.Duration = c.policy.DefaultDuration
	}
	if p.MinIncrement == 0 {
		p.MinIncrement = c.policy.DefaultMinIncrement
	}

	now := time.Now().UTC()
	a := domain.Auction{
		ID:           uuid.NewString(),
		TournamentID: strings.TrimSpace(p.TournamentID),
		ItemID:       p.ItemID,
		CurrentPrice: p.StartingPrice,
		Active:       true,
		StartTime:    now,
		EndTime:      now.Add(p.Duration),
		MinIncrement: p.MinIncrement,
		CreatedAt:    now,
	}
	if err := c.auctions.CreateAuction(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("coordinator: open auction: %w", err)
	}

	c.scheduler.Start(a.ID, p.Duration)
	c.auditLog(ctx, "auction.opened", map[string]any{
		"auction_id":     a.ID,
		"item_id":        a.ItemID,
		"starting_price": a.CurrentPrice,
		"end_time":       a.EndTime.Format(time.RFC3339),
	})
	c.logger.Info("auction opened",
		slog.String("auction_id", a.ID),
		slog.String("item_id", a.ItemID),
		slog.Time("end_time", a.EndTime),
	)
	return a, nil
}

// ResolveAuction resolves an auction on demand, typically one whose
// countdown died. Any live countdown is cancelled first.
func (c *Coordinator) ResolveAuction(ctx context.Context, auctionID string) (domain.Resolution, error) {
	if strings.TrimSpace(auctionID) == "" {
		return domain.Resolution{}, fmt.Errorf("%w: auction id is required", domain.ErrValidation)
	}
	c.scheduler.Stop(auctionID)
	return c.scheduler.Resolve(ctx, auctionID)
}

// Recover restarts countdowns for active auctions after a restart. Auctions
// whose end time already passed are resolved immediately.
func (c *Coordinator) Recover(ctx context.Context) error {
	active := true
	list, err := c.auctions.ListAuctions(ctx, domain.AuctionFilter{Active: &active})
	if err != nil {
		return fmt.Errorf("coordinator: recover: %w", err)
	}

	var restarted, resolved int
	for _, a := range list {
		if remaining := time.Until(a.EndTime); remaining > 0 {
			c.scheduler.Start(a.ID, remaining)
			restarted++
			continue
		}
		if _, err := c.scheduler.Resolve(ctx, a.ID); err != nil {
			c.logger.Error("recover: resolve overdue auction failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		resolved++
	}
	c.logger.Info("countdowns recovered",
		slog.Int("restarted", restarted),
		slog.Int("resolved", resolved),
	)
	return nil
}

// GetAuction returns a single auction.
func (c *Coordinator) GetAuction(ctx context.Context, auctionID string) (domain.Auction, error) {
	a, err := c.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, storeErr("get auction", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns auctions newest first.
func (c *Coordinator) ListAuctions(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, error) {
	f.Limit = clampLimit(f.Limit)
	list, err := c.auctions.ListAuctions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("coordinator: list auctions: %w", err)
	}
	return list, nil
}

// ListBids returns an auction's bids, newest first.
func (c *Coordinator) ListBids(ctx context.Context, auctionID string, limit int) ([]domain.Bid, error) {
	if _, err := c.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := c.bids.ListBids(ctx, auctionID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("coordinator: list bids %s: %w", auctionID, err)
	}
	return bids, nil
}

// TimeRemaining returns the whole units left before the auction ends. It
// prefers the live countdown and falls back to the stored end time.
func (c *Coordinator) TimeRemaining(ctx context.Context, auctionID string) (int64, error) {
	if d, ok := c.scheduler.Remaining(auctionID); ok {
		return c.policy.toUnits(d), nil
	}
	a, err := c.GetAuction(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	if !a.Active {
		return 0, nil
	}
	return c.policy.toUnits(time.Until(a.EndTime)), nil
}

// acquire enters the auction's exclusive section. With a distributed lock
// configured the cross-instance lock is taken after the local one and
// retried with backoff while another instance holds it.
func (c *Coordinator) acquire(ctx context.Context, auctionID string) (func(), error) {
	release, err := c.locks.Lock(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: lock %s: %w", auctionID, err)
	}
	if c.dist == nil {
		return release, nil
	}

	var unlockDist func()
	err = retry.Do(ctx, c.policy.LockAttempts, c.policy.LockBackoff,
		func(err error) bool { return errors.Is(err, domain.ErrLockHeld) },
		func(ctx context.Context) error {
			u, err := c.dist.Acquire(ctx, "auction:"+auctionID, c.policy.LockTTL)
			if err != nil {
				return err
			}
			unlockDist = u
			return nil
		})
	if err != nil {
		release()
		return nil, fmt.Errorf("coordinator: distributed lock %s: %w: %w", auctionID, domain.ErrTransientStore, err)
	}
	return func() {
		unlockDist()
		release()
	}, nil
}

func (c *Coordinator) publish(ctx context.Context, auctionID string, evt domain.Event) {
	if err := c.publisher.PublishToAuction(ctx, auctionID, evt); err != nil {
		c.logger.Warn("publish failed",
			slog.String("auction_id", auctionID),
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	default:
		return n
	}
}
