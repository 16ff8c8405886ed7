package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AuctionService defines what the auction handler requires from the
// coordinator.
type AuctionService interface {
	OpenAuction(ctx context.Context, p auction.OpenParams) (domain.Auction, error)
	StopAuction(ctx context.Context, auctionID string) (domain.Resolution, error)
	ResolveAuction(ctx context.Context, auctionID string) (domain.Resolution, error)
	GetAuction(ctx context.Context, auctionID string) (domain.Auction, error)
	ListAuctions(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, error)
	TimeRemaining(ctx context.Context, auctionID string) (int64, error)
}

// AuctionHandler serves the auction catalogue and the admin lifecycle
// endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		logger:   logHandler(logger, "auction"),
	}
}

type listAuctionsResponse struct {
	Auctions []domain.Auction `json:"auctions"`
}

// ListAuctions returns auctions, optionally narrowed by tournament and
// active flag.
// GET /api/auctions?tournament_id=...&is_active=true&limit=100
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "list auctions", err)
		return
	}
	active, err := parseBool(r, "is_active")
	if err != nil {
		writeDomainError(w, r, h.logger, "list auctions", err)
		return
	}

	list, err := h.auctions.ListAuctions(r.Context(), domain.AuctionFilter{
		TournamentID: strings.TrimSpace(r.URL.Query().Get("tournament_id")),
		Active:       active,
		Limit:        limit,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "list auctions", err)
		return
	}
	if list == nil {
		list = []domain.Auction{}
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: list})
}

// GetAuction returns one auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.GetAuction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// TimeRemaining reports the whole seconds left on the auction's countdown.
// GET /api/auctions/{id}/time
func (h *AuctionHandler) TimeRemaining(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	left, err := h.auctions.TimeRemaining(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get time remaining", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id":     id,
		"time_remaining": left,
	})
}

type openAuctionRequest struct {
	TournamentID    string `json:"tournament_id"`
	ItemID          string `json:"item_id"`
	StartingPrice   int64  `json:"starting_price"`
	DurationMinutes int64  `json:"duration_minutes"`
	DurationSeconds int64  `json:"duration_seconds"`
	MinIncrement    int64  `json:"min_increment"`
}

// maxOpenDuration bounds requested durations before they are converted.
const maxOpenDuration = 366 * 24 * time.Hour

func (req openAuctionRequest) duration() (time.Duration, error) {
	n, unit, field := req.DurationMinutes, time.Minute, "duration_minutes"
	if req.DurationSeconds != 0 {
		n, unit, field = req.DurationSeconds, time.Second, "duration_seconds"
	}
	if n < 0 || n > int64(maxOpenDuration/unit) {
		return 0, fmt.Errorf("%w: %s must be between 0 and %d", domain.ErrValidation, field, int64(maxOpenDuration/unit))
	}
	return time.Duration(n) * unit, nil
}

// OpenAuction creates an auction and starts its countdown. A zero duration
// or increment takes the configured default.
// POST /api/auctions
func (h *AuctionHandler) OpenAuction(w http.ResponseWriter, r *http.Request) {
	var req openAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := req.duration()
	if err != nil {
		writeDomainError(w, r, h.logger, "open auction", err)
		return
	}

	a, err := h.auctions.OpenAuction(r.Context(), auction.OpenParams{
		TournamentID:  req.TournamentID,
		ItemID:        req.ItemID,
		StartingPrice: req.StartingPrice,
		Duration:      d,
		MinIncrement:  req.MinIncrement,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "open auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// StopAuction force-stops an active auction.
// POST /api/auctions/{id}/stop
func (h *AuctionHandler) StopAuction(w http.ResponseWriter, r *http.Request) {
	res, err := h.auctions.StopAuction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "stop auction", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResolveAuction resolves an auction whose countdown is gone.
// POST /api/auctions/{id}/resolve
func (h *AuctionHandler) ResolveAuction(w http.ResponseWriter, r *http.Request) {
	res, err := h.auctions.ResolveAuction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve auction", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
