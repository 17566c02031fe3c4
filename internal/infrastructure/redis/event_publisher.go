package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-bidding/internal/domain"

	"github.com/go-redis/redis/v8"
)

// NotificationPublisher fans committed notifications out to every bidding
// instance over a Redis channel. It is the relay's dispatcher.
type NotificationPublisher struct {
	client  *redis.Client
	channel string
}

func NewNotificationPublisher(client *redis.Client, channel string) *NotificationPublisher {
	return &NotificationPublisher{client: client, channel: channel}
}

func (p *NotificationPublisher) Dispatch(ctx context.Context, event *domain.NotificationEvent) error {
	data, err := encodeNotification(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

func encodeNotification(event *domain.NotificationEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode notification %s: %w", event.ID, err)
	}
	return data, nil
}

func decodeNotification(payload string) (*domain.NotificationEvent, error) {
	var event domain.NotificationEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if event.ID == "" || event.AuctionID == "" || event.Kind == "" {
		return nil, fmt.Errorf("incomplete notification: %s", payload)
	}
	return &event, nil
}
