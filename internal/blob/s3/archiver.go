package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024

	defaultBatchSize = 200
)

// archiveRecord is one JSONL line: the auction header first, then its bids
// oldest first.
type archiveRecord struct {
	Kind    string          `json:"kind"`
	Auction *domain.Auction `json:"auction,omitempty"`
	Bid     *domain.Bid     `json:"bid,omitempty"`
}

// AuctionArchiver implements domain.Archiver. Each closed auction becomes
// one object at archive/auctions/YYYY-MM/<auction_id>.jsonl keyed by the
// month it ended; afterwards the auction row is stamped archived_at. Rows
// are never deleted here.
type AuctionArchiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	auctions domain.AuctionStore
	bids     domain.BidStore
	audit    domain.AuditStore
	batch    int
	now      func() time.Time
}

// NewArchiver creates an AuctionArchiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	auctions domain.AuctionStore,
	bids domain.BidStore,
	audit domain.AuditStore,
) *AuctionArchiver {
	return &AuctionArchiver{
		writer:   writer,
		reader:   reader,
		auctions: auctions,
		bids:     bids,
		audit:    audit,
		batch:    defaultBatchSize,
		now:      time.Now,
	}
}

// WithBatchSize caps how many auctions one run archives.
func (a *AuctionArchiver) WithBatchSize(n int) *AuctionArchiver {
	if n > 0 {
		a.batch = n
	}
	return a
}

// ArchiveAuctions archives closed auctions that ended before the cutoff and
// returns how many were archived. A failure on one auction does not stop the
// others; all failures are returned joined.
func (a *AuctionArchiver) ArchiveAuctions(ctx context.Context, before time.Time) (int64, error) {
	due, err := a.auctions.ListUnarchivedBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auctions query: %w", err)
	}

	var (
		count int64
		errs  []error
		paths []string
	)
	for _, auc := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		path, err := a.archiveOne(ctx, auc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		count++
		paths = append(paths, path)
	}

	if count > 0 {
		if err := a.audit.Log(ctx, "archive.auctions", map[string]any{
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
			"paths":  paths,
		}); err != nil {
			errs = append(errs, fmt.Errorf("s3blob: archive audit log: %w", err))
		}
	}
	return count, errors.Join(errs...)
}

func (a *AuctionArchiver) archiveOne(ctx context.Context, auc domain.Auction) (string, error) {
	path := AuctionPath(auc)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", auc.ID, err)
	}
	if !exists {
		bids, err := a.bids.ListBids(ctx, auc.ID, 0)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s bids: %w", auc.ID, err)
		}
		buf, err := encodeAuction(auc, bids)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s encode: %w", auc.ID, err)
		}
		if len(buf) >= multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s upload: %w", auc.ID, err)
		}
	}

	at := a.now().UTC()
	if _, err := a.auctions.UpdateAuction(ctx, auc.ID, domain.AuctionUpdate{ArchivedAt: &at}); err != nil {
		return "", fmt.Errorf("s3blob: archive %s mark: %w", auc.ID, err)
	}
	return path, nil
}

// AuctionPath is the object key for an archived auction.
//
//	archive/auctions/2026-01/3f2c....jsonl
func AuctionPath(a domain.Auction) string {
	return fmt.Sprintf("archive/auctions/%s/%s.jsonl", a.EndTime.UTC().Format("2006-01"), a.ID)
}

// encodeAuction writes the auction line followed by bids, oldest first.
// bids arrive newest first from the store.
func encodeAuction(a domain.Auction, bids []domain.Bid) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(archiveRecord{Kind: "auction", Auction: &a}); err != nil {
		return nil, err
	}
	for i := len(bids) - 1; i >= 0; i-- {
		if err := enc.Encode(archiveRecord{Kind: "bid", Bid: &bids[i]}); err != nil {
			return nil, fmt.Errorf("jsonl encode bid %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*AuctionArchiver)(nil)
