package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Inbound message types.
const (
	msgJoinAuction  = "join_auction"
	msgLeaveAuction = "leave_auction"
	msgPing         = "ping"
)

// inbound is the only shape a client may send. Anything that does not decode
// into it is answered with an error event.
type inbound struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	Username  string `json:"username"`
}

var errUnknownMessage = errors.New("unknown message type")

func parseInbound(data []byte) (inbound, error) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return inbound{}, fmt.Errorf("malformed message: %w", domain.ErrValidation)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	msg.AuctionID = strings.TrimSpace(msg.AuctionID)
	msg.Username = strings.TrimSpace(msg.Username)

	switch msg.Type {
	case msgJoinAuction:
		if msg.AuctionID == "" {
			return inbound{}, fmt.Errorf("join_auction requires auction_id: %w", domain.ErrValidation)
		}
	case msgLeaveAuction, msgPing:
	default:
		return inbound{}, fmt.Errorf("%w %q: %w", errUnknownMessage, msg.Type, domain.ErrValidation)
	}
	return msg, nil
}

// Catalog looks up auctions so joins to unknown auctions can be refused.
type Catalog interface {
	GetAuction(ctx context.Context, id string) (domain.Auction, error)
}

// WithCatalog makes join_auction check that the auction exists.
func (h *Hub) WithCatalog(c Catalog) *Hub {
	h.catalog = c
	return h
}

func (h *Hub) handleInbound(ctx context.Context, s Subscriber, data []byte) {
	msg, err := parseInbound(data)
	if err != nil {
		h.reply(ctx, s, errorEvent(err.Error(), h))
		return
	}

	switch msg.Type {
	case msgPing:
		h.reply(ctx, s, domain.Event{Type: domain.EventPong, Timestamp: h.now().UTC()})

	case msgJoinAuction:
		if h.catalog != nil {
			if _, err := h.catalog.GetAuction(ctx, msg.AuctionID); err != nil {
				h.reply(ctx, s, errorEvent("auction not found", h))
				return
			}
		}
		if err := h.Subscribe(ctx, s.ID(), msg.AuctionID, msg.Username); err != nil {
			h.logger.Warn("ws: join failed",
				slog.String("user_id", s.ID()),
				slog.String("auction_id", msg.AuctionID),
				slog.String("error", err.Error()),
			)
			h.reply(ctx, s, errorEvent("could not join auction", h))
		}

	case msgLeaveAuction:
		h.Unsubscribe(ctx, s.ID(), msg.Username)
	}
}

func (h *Hub) reply(ctx context.Context, s Subscriber, evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.Deliver(data); err != nil {
		h.Disconnect(ctx, s)
	}
}

func errorEvent(message string, h *Hub) domain.Event {
	return domain.Event{Type: domain.EventError, Message: message, Timestamp: h.now().UTC()}
}
