package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Subscriber is one live connection as seen by the hub.
type Subscriber interface {
	ID() string
	// Deliver queues an encoded event. It must not block; an error means the
	// subscriber can no longer keep up and is dropped.
	Deliver(msg []byte) error
	Close()
}

type membership struct {
	auctionID string
	username  string
}

// Hub tracks connected subscribers and the auction room each one watches.
// Rooms are independent: a publish to one auction never waits on another.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]Subscriber
	rooms   map[string]map[string]struct{}
	members map[string]membership

	// presence events go through out so that other instances see them when
	// fan-out is shared; it defaults to the hub itself.
	out     domain.EventPublisher
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		subs:    make(map[string]Subscriber),
		rooms:   make(map[string]map[string]struct{}),
		members: make(map[string]membership),
		logger:  logger.With(slog.String("component", "ws_hub")),
		now:     time.Now,
	}
	h.out = h
	return h
}

// WithPublisher routes presence events through p instead of delivering them
// locally.
func (h *Hub) WithPublisher(p domain.EventPublisher) *Hub {
	h.out = p
	return h
}

// Run blocks until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subs))
	for id, s := range h.subs {
		subs = append(subs, s)
		delete(h.subs, id)
	}
	h.rooms = make(map[string]map[string]struct{})
	h.members = make(map[string]membership)
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	h.logger.Info("ws: hub stopped", slog.Int("closed", len(subs)))
	return ctx.Err()
}

// Register adds a connection. A second connection for the same id replaces
// the first one, which is closed; room membership carries over.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	prev, replaced := h.subs[s.ID()]
	h.subs[s.ID()] = s
	total := len(h.subs)
	h.mu.Unlock()

	if replaced && prev != s {
		prev.Close()
	}
	h.logger.Info("ws: subscriber connected",
		slog.String("user_id", s.ID()),
		slog.Int("total_subscribers", total),
	)
}

// Disconnect removes s and its room membership. It is a no-op when s has
// already been replaced by a newer connection with the same id.
func (h *Hub) Disconnect(ctx context.Context, s Subscriber) {
	h.mu.Lock()
	if cur, ok := h.subs[s.ID()]; !ok || cur != s {
		h.mu.Unlock()
		return
	}
	delete(h.subs, s.ID())
	m, left, count := h.leaveLocked(s.ID())
	total := len(h.subs)
	h.mu.Unlock()

	s.Close()
	if left {
		h.announce(ctx, domain.EventUserLeft, m, s.ID(), count)
	}
	h.logger.Info("ws: subscriber disconnected",
		slog.String("user_id", s.ID()),
		slog.Int("total_subscribers", total),
	)
}

// Subscribe moves a connected subscriber into the auction's room. Leaving a
// previous room is announced there first.
func (h *Hub) Subscribe(ctx context.Context, subscriberID, auctionID, username string) error {
	if auctionID == "" {
		return fmt.Errorf("ws: subscribe: auction id required: %w", domain.ErrValidation)
	}
	if username == "" {
		username = subscriberID
	}

	h.mu.Lock()
	if _, ok := h.subs[subscriberID]; !ok {
		h.mu.Unlock()
		return fmt.Errorf("ws: subscribe %s: %w", subscriberID, domain.ErrNotFound)
	}
	prev, hadPrev, prevCount := h.leaveLocked(subscriberID)
	room, ok := h.rooms[auctionID]
	if !ok {
		room = make(map[string]struct{})
		h.rooms[auctionID] = room
	}
	room[subscriberID] = struct{}{}
	m := membership{auctionID: auctionID, username: username}
	h.members[subscriberID] = m
	count := len(room)
	h.mu.Unlock()

	if hadPrev && prev.auctionID != auctionID {
		h.announce(ctx, domain.EventUserLeft, prev, subscriberID, prevCount)
	}
	h.announce(ctx, domain.EventUserJoined, m, subscriberID, count)
	return nil
}

// Unsubscribe removes the subscriber from whatever room it is in. The
// connection itself stays registered.
func (h *Hub) Unsubscribe(ctx context.Context, subscriberID, username string) {
	h.mu.Lock()
	m, left, count := h.leaveLocked(subscriberID)
	h.mu.Unlock()

	if !left {
		return
	}
	if username != "" {
		m.username = username
	}
	h.announce(ctx, domain.EventUserLeft, m, subscriberID, count)
}

// PublishToAuction delivers evt to every subscriber in the room. Subscribers
// whose delivery fails are dropped; the publish itself still succeeds.
func (h *Hub) PublishToAuction(ctx context.Context, auctionID string, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", evt.Type, err)
	}

	h.mu.RLock()
	room := h.rooms[auctionID]
	targets := make([]Subscriber, 0, len(room))
	for id := range room {
		if s, ok := h.subs[id]; ok {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.Deliver(data); err != nil {
			h.logger.Warn("ws: dropping subscriber",
				slog.String("user_id", s.ID()),
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
			h.Disconnect(ctx, s)
		}
	}
	return nil
}

// PublishToSubscriber delivers evt to one subscriber if it is connected.
func (h *Hub) PublishToSubscriber(ctx context.Context, subscriberID string, evt domain.Event) error {
	h.mu.RLock()
	s, ok := h.subs[subscriberID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", evt.Type, err)
	}
	if err := s.Deliver(data); err != nil {
		h.Disconnect(ctx, s)
		return fmt.Errorf("ws: deliver to %s: %w", subscriberID, err)
	}
	return nil
}

// RoomSize returns the number of subscribers watching auctionID.
func (h *Hub) RoomSize(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}

// TotalSubscribers returns the number of live connections.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Rooms returns a snapshot of room sizes keyed by auction id.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for id, room := range h.rooms {
		out[id] = len(room)
	}
	return out
}

// leaveLocked removes id from its room. Empty rooms are deleted. Callers
// hold h.mu.
func (h *Hub) leaveLocked(id string) (membership, bool, int) {
	m, ok := h.members[id]
	if !ok {
		return membership{}, false, 0
	}
	delete(h.members, id)
	room := h.rooms[m.auctionID]
	delete(room, id)
	count := len(room)
	if count == 0 {
		delete(h.rooms, m.auctionID)
	}
	return m, true, count
}

func (h *Hub) announce(ctx context.Context, typ domain.EventType, m membership, userID string, count int) {
	evt := domain.PresenceEvent(typ, m.auctionID, userID, m.username, count, h.now())
	if err := h.out.PublishToAuction(ctx, m.auctionID, evt); err != nil {
		h.logger.Warn("ws: presence publish failed",
			slog.String("auction_id", m.auctionID),
			slog.String("error", err.Error()),
		)
	}
}
