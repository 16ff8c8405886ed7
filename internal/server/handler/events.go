package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// EventJournal replays an auction's recorded room events.
type EventJournal interface {
	History(ctx context.Context, auctionID, after string, count int) ([]ws.JournalEntry, error)
}

// AuctionLookup resolves an auction id.
type AuctionLookup interface {
	GetAuction(ctx context.Context, auctionID string) (domain.Auction, error)
}

// EventsHandler serves an auction's event history so that a reconnecting
// client can catch up on what it missed.
type EventsHandler struct {
	journal  EventJournal
	auctions AuctionLookup
	logger   *slog.Logger
}

// NewEventsHandler creates an EventsHandler. journal may be nil when no
// Redis is configured; the endpoint then answers 503.
func NewEventsHandler(journal EventJournal, auctions AuctionLookup, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		journal:  journal,
		auctions: auctions,
		logger:   logHandler(logger, "events"),
	}
}

type listEventsResponse struct {
	Events []ws.JournalEntry `json:"events"`
}

// ListEvents returns journal entries recorded after the given entry id.
// GET /api/auctions/{id}/events?after=<entry id>&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal not configured")
		return
	}

	id := pathParam(r, "id")
	if _, err := h.auctions.GetAuction(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	switch {
	case limit == 0:
		limit = 100
	case limit > 500:
		limit = 500
	}

	entries, err := h.journal.History(r.Context(), id, r.URL.Query().Get("after"), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	if entries == nil {
		entries = []ws.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: entries})
}
