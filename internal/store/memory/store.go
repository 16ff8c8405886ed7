// Package memory implements the domain store interfaces with in-process maps.
// It is the default backend for single-instance deployments and the fake used
// throughout the tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Store is a concurrency-safe implementation of domain.AuctionStore,
// domain.BidStore and domain.AuditStore. Values are copied in and out so
// callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	auctions map[string]domain.Auction
	bids     map[string][]domain.Bid // auction id -> bids in insertion order
	audit    []domain.AuditEntry
	now      func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		auctions: make(map[string]domain.Auction),
		bids:     make(map[string][]domain.Bid),
		now:      time.Now,
	}
}

// CreateAuction stores a new auction; a duplicate id yields domain.ErrAlreadyExists.
func (s *Store) CreateAuction(_ context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("memory: create auction %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.auctions[a.ID] = cloneAuction(a)
	return nil
}

// GetAuction returns one auction or domain.ErrNotFound.
func (s *Store) GetAuction(_ context.Context, id string) (domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: get auction %s: %w", id, domain.ErrNotFound)
	}
	return cloneAuction(a), nil
}

// UpdateAuction applies the non-nil fields of u and returns the new state.
func (s *Store) UpdateAuction(_ context.Context, id string, u domain.AuctionUpdate) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: update auction %s: %w", id, domain.ErrNotFound)
	}
	if u.CurrentPrice != nil {
		a.CurrentPrice = *u.CurrentPrice
	}
	if u.LeadingBidderID != nil {
		a.LeadingBidderID = *u.LeadingBidderID
	}
	if u.Active != nil {
		a.Active = *u.Active
	}
	if u.EndTime != nil {
		a.EndTime = *u.EndTime
	}
	if u.WinnerID != nil {
		a.WinnerID = *u.WinnerID
	}
	if u.FinalPrice != nil {
		v := *u.FinalPrice
		a.FinalPrice = &v
	}
	if u.ArchivedAt != nil {
		v := *u.ArchivedAt
		a.ArchivedAt = &v
	}
	s.auctions[id] = a
	return cloneAuction(a), nil
}

// ListAuctions returns matching auctions, newest first.
func (s *Store) ListAuctions(_ context.Context, f domain.AuctionFilter) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		if f.TournamentID != "" && a.TournamentID != f.TournamentID {
			continue
		}
		if f.Active != nil && a.Active != *f.Active {
			continue
		}
		out = append(out, cloneAuction(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListUnarchivedBefore returns closed, unarchived auctions that ended
// before the cutoff, oldest first.
func (s *Store) ListUnarchivedBefore(_ context.Context, before time.Time, limit int) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Active || a.ArchivedAt != nil || !a.EndTime.Before(before) {
			continue
		}
		out = append(out, cloneAuction(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertBid appends a bid. A bid for an unknown auction yields
// domain.ErrNotFound.
func (s *Store) InsertBid(_ context.Context, b domain.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[b.AuctionID]; !ok {
		return fmt.Errorf("memory: insert bid for auction %s: %w", b.AuctionID, domain.ErrNotFound)
	}
	for _, existing := range s.bids[b.AuctionID] {
		if existing.ID == b.ID {
			return fmt.Errorf("memory: insert bid %s: %w", b.ID, domain.ErrAlreadyExists)
		}
	}
	s.bids[b.AuctionID] = append(s.bids[b.AuctionID], b)
	return nil
}

// UpdateBidsWinningFlag sets the winning flag on every bid of the auction
// except exceptBidID and returns how many changed.
func (s *Store) UpdateBidsWinningFlag(_ context.Context, auctionID, exceptBidID string, winning bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	bids := s.bids[auctionID]
	for i := range bids {
		if bids[i].ID == exceptBidID || bids[i].Winning == winning {
			continue
		}
		bids[i].Winning = winning
		changed++
	}
	return changed, nil
}

// CommitBid validates the whole commit before touching any state, so a
// failed commit leaves the previous winner and price in place.
func (s *Store) CommitBid(_ context.Context, b domain.Bid) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[b.AuctionID]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: commit bid for auction %s: %w", b.AuctionID, domain.ErrNotFound)
	}
	bids := s.bids[b.AuctionID]
	for _, existing := range bids {
		if existing.ID == b.ID {
			return domain.Auction{}, fmt.Errorf("memory: commit bid %s: %w", b.ID, domain.ErrAlreadyExists)
		}
	}

	for i := range bids {
		bids[i].Winning = false
	}
	b.Winning = true
	s.bids[b.AuctionID] = append(bids, b)

	a.CurrentPrice = b.Amount
	a.LeadingBidderID = b.BidderID
	s.auctions[b.AuctionID] = a
	return cloneAuction(a), nil
}

// GetWinningBid returns the auction's winning bid or domain.ErrNotFound.
func (s *Store) GetWinningBid(_ context.Context, auctionID string) (domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.bids[auctionID]
	for i := len(bids) - 1; i >= 0; i-- {
		if bids[i].Winning {
			return bids[i], nil
		}
	}
	return domain.Bid{}, fmt.Errorf("memory: winning bid for auction %s: %w", auctionID, domain.ErrNotFound)
}

// ListBids returns the auction's bids newest first; limit 0 means all.
func (s *Store) ListBids(_ context.Context, auctionID string, limit int) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.bids[auctionID]
	n := len(bids)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]domain.Bid, 0, n)
	for i := len(bids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, bids[i])
	}
	return out, nil
}

// CountBids counts bids matching f.
func (s *Store) CountBids(_ context.Context, f domain.BidFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for auctionID, bids := range s.bids {
		if f.AuctionID != "" && auctionID != f.AuctionID {
			continue
		}
		for _, b := range bids {
			if f.BidderID != "" && b.BidderID != f.BidderID {
				continue
			}
			if f.WinningOnly && !b.Winning {
				continue
			}
			n++
		}
	}
	return n, nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := make(map[string]any, len(detail))
	for k, v := range detail {
		d[k] = v
	}
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    d,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func cloneAuction(a domain.Auction) domain.Auction {
	if a.FinalPrice != nil {
		v := *a.FinalPrice
		a.FinalPrice = &v
	}
	if a.ArchivedAt != nil {
		v := *a.ArchivedAt
		a.ArchivedAt = &v
	}
	return a
}
