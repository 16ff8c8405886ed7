package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a BidStore backed by the given pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

const bidSelectCols = `id, auction_id, user_id, username, amount, created_at, is_winning`

func scanBid(scanner interface{ Scan(dest ...any) error }) (domain.Bid, error) {
	var b domain.Bid
	err := scanner.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Username, &b.Amount, &b.Timestamp, &b.Winning)
	return b, err
}

// InsertBid stores an accepted bid. A bid for an unknown auction yields
// domain.ErrNotFound.
func (s *BidStore) InsertBid(ctx context.Context, b domain.Bid) error {
	const query = `
		INSERT INTO bids (id, auction_id, user_id, username, amount, created_at, is_winning)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.Username, b.Amount, b.Timestamp, b.Winning)
	return classify("insert bid "+b.ID, err)
}

// UpdateBidsWinningFlag sets is_winning on every bid of the auction except
// exceptBidID and returns how many rows changed.
func (s *BidStore) UpdateBidsWinningFlag(ctx context.Context, auctionID, exceptBidID string, winning bool) (int64, error) {
	const query = `
		UPDATE bids SET is_winning = $3
		WHERE auction_id = $1 AND id <> $2 AND is_winning <> $3`
	tag, err := s.pool.Exec(ctx, query, auctionID, exceptBidID, winning)
	if err != nil {
		return 0, classify("update winning flag "+auctionID, err)
	}
	return tag.RowsAffected(), nil
}

// CommitBid supersedes the current winner, inserts b as winning and moves
// the auction's price and leader in one transaction.
func (s *BidStore) CommitBid(ctx context.Context, b domain.Bid) (domain.Auction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Auction{}, classify("begin commit bid "+b.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE bids SET is_winning = FALSE WHERE auction_id = $1 AND is_winning`,
		b.AuctionID); err != nil {
		return domain.Auction{}, classify("supersede winning bid "+b.AuctionID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bids (id, auction_id, user_id, username, amount, created_at, is_winning)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
		b.ID, b.AuctionID, b.BidderID, b.Username, b.Amount, b.Timestamp); err != nil {
		return domain.Auction{}, classify("insert bid "+b.ID, err)
	}

	a, err := scanAuction(tx.QueryRow(ctx, `
		UPDATE auctions SET current_price = $2, leading_bidder_id = $3
		WHERE id = $1 RETURNING `+auctionSelectCols,
		b.AuctionID, b.Amount, b.BidderID))
	if err != nil {
		return domain.Auction{}, classify("update price "+b.AuctionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Auction{}, classify("commit bid "+b.ID, err)
	}
	return a, nil
}

// GetWinningBid returns the auction's winning bid or domain.ErrNotFound.
func (s *BidStore) GetWinningBid(ctx context.Context, auctionID string) (domain.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bidSelectCols+` FROM bids WHERE auction_id = $1 AND is_winning
		 ORDER BY seq DESC LIMIT 1`, auctionID)
	b, err := scanBid(row)
	if err != nil {
		return domain.Bid{}, classify("get winning bid "+auctionID, err)
	}
	return b, nil
}

// ListBids returns the auction's bids newest first; limit 0 means all.
func (s *BidStore) ListBids(ctx context.Context, auctionID string, limit int) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE auction_id = $1 ORDER BY seq DESC`
	args := []any{auctionID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list bids "+auctionID, err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, classify("scan bid", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list bids rows", err)
	}
	return out, nil
}

// CountBids counts bids matching f.
func (s *BidStore) CountBids(ctx context.Context, f domain.BidFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM bids WHERE 1=1`
	var args []any
	if f.AuctionID != "" {
		args = append(args, f.AuctionID)
		query += fmt.Sprintf(" AND auction_id = $%d", len(args))
	}
	if f.BidderID != "" {
		args = append(args, f.BidderID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.WinningOnly {
		query += " AND is_winning"
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify("count bids", err)
	}
	return n, nil
}

var _ domain.BidStore = (*BidStore)(nil)
