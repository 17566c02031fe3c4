package domain

import "time"

type EventKind string

const (
	EventOutbid          EventKind = "outbid"
	EventAuctionExtended EventKind = "auction_extended"
	EventAuctionWon      EventKind = "auction_won"
	EventAuctionSold     EventKind = "auction_sold"
	EventReserveNotMet   EventKind = "reserve_not_met"
	EventNoSale          EventKind = "no_sale"
)

// NotificationEvent is an outbox row. An empty RecipientID addresses every
// watcher of the auction.
type NotificationEvent struct {
	ID          string                 `json:"id"`
	Kind        EventKind              `json:"kind"`
	AuctionID   string                 `json:"auction_id"`
	RecipientID string                 `json:"recipient_id,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

func (e *NotificationEvent) IsBroadcast() bool {
	return e.RecipientID == ""
}

// Terminal reports whether the event closes the auction for watchers.
func (e *NotificationEvent) Terminal() bool {
	switch e.Kind {
	case EventAuctionSold, EventNoSale:
		return true
	default:
		return false
	}
}
