package websocket

import (
	"context"
	"time"

	"marketplace-bidding/internal/domain"
)

// Notification is the frame pushed to browsers for every outbox event.
type Notification struct {
	Type      domain.EventKind       `json:"type"`
	EventID   string                 `json:"event_id"`
	AuctionID string                 `json:"auction_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type WebSocketNotifier struct {
	connManager domain.ConnectionManager
}

func NewWebSocketNotifier(connManager domain.ConnectionManager) *WebSocketNotifier {
	return &WebSocketNotifier{connManager: connManager}
}

// Dispatch routes an event to its recipient, or to every watcher of the
// auction when it has none. Only sockets on this instance are reached.
func (n *WebSocketNotifier) Dispatch(ctx context.Context, event *domain.NotificationEvent) error {
	msg := Notification{
		Type:      event.Kind,
		EventID:   event.ID,
		AuctionID: event.AuctionID,
		Data:      event.Payload,
		Timestamp: event.CreatedAt,
	}
	if event.IsBroadcast() {
		return n.BroadcastToAuction(ctx, event.AuctionID, msg)
	}
	return n.NotifyUser(ctx, event.RecipientID, msg)
}

func (n *WebSocketNotifier) NotifyUser(ctx context.Context, userID string, message interface{}) error {
	return n.connManager.NotifyUser(userID, message)
}

func (n *WebSocketNotifier) BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error {
	return n.connManager.BroadcastToAuction(auctionID, message)
}
