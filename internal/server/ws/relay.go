package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// fanoutChannel carries events between instances sharing one Redis.
const fanoutChannel = "ch:auction:events"

const (
	targetAuction    = "auction"
	targetSubscriber = "subscriber"
)

type envelope struct {
	Target string       `json:"target"`
	ID     string       `json:"id"`
	Event  domain.Event `json:"event"`
}

// JournalEntry is one recorded room event.
type JournalEntry struct {
	ID    string       `json:"id"`
	Event domain.Event `json:"event"`
}

// JournalKey is the stream holding an auction's room events.
func JournalKey(auctionID string) string {
	return "stream:auction:" + auctionID
}

// Relay publishes events through a SignalBus. Every room event is appended
// to the auction's journal stream. With fan-out enabled, delivery goes over
// pub/sub so that subscribers connected to any instance receive it;
// otherwise the local hub delivers directly.
type Relay struct {
	bus    domain.SignalBus
	hub    *Hub
	fanout bool
	logger *slog.Logger
}

// NewRelay creates a relay in front of hub.
func NewRelay(bus domain.SignalBus, hub *Hub, fanout bool, logger *slog.Logger) *Relay {
	return &Relay{
		bus:    bus,
		hub:    hub,
		fanout: fanout,
		logger: logger.With(slog.String("component", "ws_relay")),
	}
}

func (r *Relay) PublishToAuction(ctx context.Context, auctionID string, evt domain.Event) error {
	if evt.AuctionID == "" {
		evt.AuctionID = auctionID
	}
	if data, err := json.Marshal(evt); err == nil {
		if err := r.bus.StreamAppend(ctx, JournalKey(auctionID), data); err != nil {
			r.logger.Warn("ws: journal append failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if !r.fanout {
		return r.hub.PublishToAuction(ctx, auctionID, evt)
	}
	return r.send(ctx, envelope{Target: targetAuction, ID: auctionID, Event: evt})
}

func (r *Relay) PublishToSubscriber(ctx context.Context, subscriberID string, evt domain.Event) error {
	if !r.fanout {
		return r.hub.PublishToSubscriber(ctx, subscriberID, evt)
	}
	return r.send(ctx, envelope{Target: targetSubscriber, ID: subscriberID, Event: evt})
}

func (r *Relay) send(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: encode envelope: %w", err)
	}
	if err := r.bus.Publish(ctx, fanoutChannel, data); err != nil {
		return fmt.Errorf("ws: relay %s %s: %w", env.Target, env.ID, err)
	}
	return nil
}

// Run delivers events received from the bus to the local hub until ctx is
// cancelled. Without fan-out it only waits.
func (r *Relay) Run(ctx context.Context) error {
	if !r.fanout {
		<-ctx.Done()
		return ctx.Err()
	}

	msgs, err := r.bus.Subscribe(ctx, fanoutChannel)
	if err != nil {
		return fmt.Errorf("ws: relay subscribe: %w", err)
	}
	r.logger.Info("ws: relay subscribed", slog.String("channel", fanoutChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("ws: relay subscription closed")
			}
			r.dispatch(ctx, data)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("ws: bad relay envelope", slog.String("error", err.Error()))
		return
	}

	var err error
	switch env.Target {
	case targetAuction:
		err = r.hub.PublishToAuction(ctx, env.ID, env.Event)
	case targetSubscriber:
		err = r.hub.PublishToSubscriber(ctx, env.ID, env.Event)
	default:
		r.logger.Warn("ws: unknown relay target", slog.String("target", env.Target))
		return
	}
	if err != nil {
		r.logger.Debug("ws: relay delivery failed",
			slog.String("target", env.Target),
			slog.String("id", env.ID),
			slog.String("error", err.Error()),
		)
	}
}

// History returns up to count journal entries for the auction recorded after
// the given entry id ("0" for the beginning).
func (r *Relay) History(ctx context.Context, auctionID, after string, count int) ([]JournalEntry, error) {
	if after == "" {
		after = "0"
	}
	msgs, err := r.bus.StreamRead(ctx, JournalKey(auctionID), after, count)
	if err != nil {
		return nil, fmt.Errorf("ws: history %s: %w", auctionID, err)
	}

	out := make([]JournalEntry, 0, len(msgs))
	for _, m := range msgs {
		var evt domain.Event
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			continue
		}
		out = append(out, JournalEntry{ID: m.ID, Event: evt})
	}
	return out, nil
}

var _ domain.EventPublisher = (*Relay)(nil)
var _ domain.EventPublisher = (*Hub)(nil)
