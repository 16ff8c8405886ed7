package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// BidService defines what the bid handler requires from the coordinator.
type BidService interface {
	PlaceBid(ctx context.Context, auctionID, bidderID, username string, amount int64) (domain.Bid, error)
	ListBids(ctx context.Context, auctionID string, limit int) ([]domain.Bid, error)
}

// BidHandler serves bid placement and bid history.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{
		bids:   bids,
		logger: logHandler(logger, "bid"),
	}
}

type placeBidRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
}

// PlaceBid submits a bid on the auction.
// POST /api/auctions/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := h.bids.PlaceBid(r.Context(), pathParam(r, "id"), req.UserID, req.Username, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

type listBidsResponse struct {
	Bids []domain.Bid `json:"bids"`
}

// ListBids returns the auction's bids, newest first.
// GET /api/auctions/{id}/bids?limit=100
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "list bids", err)
		return
	}
	bids, err := h.bids.ListBids(r.Context(), pathParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}
