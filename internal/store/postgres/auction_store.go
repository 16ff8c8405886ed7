package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates an AuctionStore backed by the given pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `id, tournament_id, item_id, current_price, leading_bidder_id,
	is_active, start_time, end_time, min_increment, winner_id, final_price,
	archived_at, created_at`

func scanAuction(scanner interface{ Scan(dest ...any) error }) (domain.Auction, error) {
	var a domain.Auction
	err := scanner.Scan(
		&a.ID, &a.TournamentID, &a.ItemID, &a.CurrentPrice, &a.LeadingBidderID,
		&a.Active, &a.StartTime, &a.EndTime, &a.MinIncrement, &a.WinnerID, &a.FinalPrice,
		&a.ArchivedAt, &a.CreatedAt,
	)
	return a, err
}

func scanAuctions(rows pgx.Rows) ([]domain.Auction, error) {
	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAuction inserts a new auction.
func (s *AuctionStore) CreateAuction(ctx context.Context, a domain.Auction) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO auctions (
			id, tournament_id, item_id, current_price, leading_bidder_id,
			is_active, start_time, end_time, min_increment, winner_id,
			final_price, archived_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.TournamentID, a.ItemID, a.CurrentPrice, a.LeadingBidderID,
		a.Active, a.StartTime, a.EndTime, a.MinIncrement, a.WinnerID,
		a.FinalPrice, a.ArchivedAt, a.CreatedAt,
	)
	return classify("create auction "+a.ID, err)
}

// GetAuction returns one auction or domain.ErrNotFound.
func (s *AuctionStore) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		return domain.Auction{}, classify("get auction "+id, err)
	}
	return a, nil
}

// UpdateAuction applies the non-nil fields of u and returns the new row.
func (s *AuctionStore) UpdateAuction(ctx context.Context, id string, u domain.AuctionUpdate) (domain.Auction, error) {
	var sets []string
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.CurrentPrice != nil {
		add("current_price", *u.CurrentPrice)
	}
	if u.LeadingBidderID != nil {
		add("leading_bidder_id", *u.LeadingBidderID)
	}
	if u.Active != nil {
		add("is_active", *u.Active)
	}
	if u.EndTime != nil {
		add("end_time", *u.EndTime)
	}
	if u.WinnerID != nil {
		add("winner_id", *u.WinnerID)
	}
	if u.FinalPrice != nil {
		add("final_price", *u.FinalPrice)
	}
	if u.ArchivedAt != nil {
		add("archived_at", *u.ArchivedAt)
	}
	if len(sets) == 0 {
		return s.GetAuction(ctx, id)
	}

	query := `UPDATE auctions SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + auctionSelectCols
	a, err := scanAuction(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Auction{}, classify("update auction "+id, err)
	}
	return a, nil
}

// ListAuctions returns matching auctions, newest first.
func (s *AuctionStore) ListAuctions(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE 1=1`
	var args []any
	if f.TournamentID != "" {
		args = append(args, f.TournamentID)
		query += fmt.Sprintf(" AND tournament_id = $%d", len(args))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		query += fmt.Sprintf(" AND is_active = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list auctions", err)
	}
	defer rows.Close()

	out, err := scanAuctions(rows)
	if err != nil {
		return nil, classify("scan auctions", err)
	}
	return out, nil
}

// ListUnarchivedBefore returns closed, unarchived auctions that ended before
// the cutoff, oldest first.
func (s *AuctionStore) ListUnarchivedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions
		WHERE is_active = FALSE AND archived_at IS NULL AND end_time < $1
		ORDER BY end_time`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list unarchived auctions", err)
	}
	defer rows.Close()

	out, err := scanAuctions(rows)
	if err != nil {
		return nil, classify("scan unarchived auctions", err)
	}
	return out, nil
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
