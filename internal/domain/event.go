package domain

import (
	"context"
	"time"
)

// EventType names a message pushed to websocket subscribers.
type EventType string

const (
	EventTimerUpdate       EventType = "timer_update"
	EventTimerWarning      EventType = "timer_warning"
	EventTimerFinalWarning EventType = "timer_final_warning"
	EventTimerExtended     EventType = "timer_extended"
	EventBidUpdate         EventType = "bid_update"
	EventAuctionStatus     EventType = "auction_status"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventNotification      EventType = "notification"
	EventPong              EventType = "pong"
	EventError             EventType = "error"
)

const (
	WarningMessage      = "30 seconds remaining!"
	FinalWarningMessage = "Final 10 seconds!"
)

// Event is the JSON envelope delivered to subscribers. Only the fields that
// belong to Type are set.
type Event struct {
	Type      EventType `json:"type"`
	AuctionID string    `json:"auction_id,omitempty"`

	TimeRemaining *int64 `json:"time_remaining,omitempty"`
	TotalDuration *int64 `json:"total_duration,omitempty"`
	Message       string `json:"message,omitempty"`

	AdditionalSeconds int64      `json:"additional_seconds,omitempty"`
	NewEndTime        *time.Time `json:"new_end_time,omitempty"`

	Bid *BidPayload `json:"bid,omitempty"`

	Status AuctionStatus `json:"status,omitempty"`
	Data   *StatusData   `json:"data,omitempty"`

	UserID            string `json:"user_id,omitempty"`
	Username          string `json:"username,omitempty"`
	ParticipantsCount *int   `json:"participants_count,omitempty"`

	Notification *Notification `json:"notification,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// BidPayload is the public view of an accepted bid.
type BidPayload struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusData accompanies auction_status events.
type StatusData struct {
	Winner     *Winner `json:"winner,omitempty"`
	FinalPrice int64   `json:"final_price"`
}

// NotificationKind classifies personal notifications.
type NotificationKind string

const (
	NotificationOutbid NotificationKind = "outbid"
	NotificationWon    NotificationKind = "won"
)

// Notification is a message addressed to a single subscriber.
type Notification struct {
	Type    NotificationKind `json:"type"`
	Message string           `json:"message"`
}

// EventPublisher delivers events to auction rooms and single subscribers.
type EventPublisher interface {
	PublishToAuction(ctx context.Context, auctionID string, evt Event) error
	PublishToSubscriber(ctx context.Context, subscriberID string, evt Event) error
}

func TimerUpdateEvent(auctionID string, remaining, total int64, at time.Time) Event {
	return Event{
		Type:          EventTimerUpdate,
		AuctionID:     auctionID,
		TimeRemaining: &remaining,
		TotalDuration: &total,
		Timestamp:     at.UTC(),
	}
}

func TimerWarningEvent(auctionID string, at time.Time) Event {
	return Event{Type: EventTimerWarning, AuctionID: auctionID, Message: WarningMessage, Timestamp: at.UTC()}
}

func TimerFinalWarningEvent(auctionID string, at time.Time) Event {
	return Event{Type: EventTimerFinalWarning, AuctionID: auctionID, Message: FinalWarningMessage, Timestamp: at.UTC()}
}

func TimerExtendedEvent(auctionID string, additional int64, newEnd, at time.Time) Event {
	end := newEnd.UTC()
	return Event{
		Type:              EventTimerExtended,
		AuctionID:         auctionID,
		AdditionalSeconds: additional,
		NewEndTime:        &end,
		Timestamp:         at.UTC(),
	}
}

func BidUpdateEvent(b Bid) Event {
	return Event{
		Type:      EventBidUpdate,
		AuctionID: b.AuctionID,
		Bid: &BidPayload{
			UserID:    b.BidderID,
			Username:  b.Username,
			Amount:    b.Amount,
			Timestamp: b.Timestamp.UTC(),
		},
		Timestamp: b.Timestamp.UTC(),
	}
}

func AuctionStatusEvent(r Resolution) Event {
	return Event{
		Type:      EventAuctionStatus,
		AuctionID: r.AuctionID,
		Status:    r.Status,
		Data:      &StatusData{Winner: r.Winner, FinalPrice: r.FinalPrice},
		Timestamp: r.ResolvedAt.UTC(),
	}
}

func PresenceEvent(typ EventType, auctionID, userID, username string, count int, at time.Time) Event {
	return Event{
		Type:              typ,
		AuctionID:         auctionID,
		UserID:            userID,
		Username:          username,
		ParticipantsCount: &count,
		Timestamp:         at.UTC(),
	}
}

func NotificationEvent(kind NotificationKind, message string, at time.Time) Event {
	return Event{
		Type:         EventNotification,
		Notification: &Notification{Type: kind, Message: message},
		Timestamp:    at.UTC(),
	}
}
