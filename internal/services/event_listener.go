package services

import (
	"context"
	"fmt"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/pkg/logger"
)

// EventListener consumes published notifications and hands them to local
// websocket watchers.
type EventListener struct {
	dispatcher        domain.NotificationDispatcher
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(dispatcher domain.NotificationDispatcher, connectionManager domain.ConnectionManager,
	log logger.Logger) *EventListener {
	return &EventListener{
		dispatcher:        dispatcher,
		connectionManager: connectionManager,
		log:               log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.Subscribe(ctx, el.HandleEvent)
}

func (el *EventListener) HandleEvent(event *domain.NotificationEvent) error {
	el.log.Info("Handling notification", "kind", event.Kind, "auction_id", event.AuctionID,
		"recipient_id", event.RecipientID)

	switch event.Kind {
	case domain.EventOutbid, domain.EventAuctionExtended, domain.EventAuctionWon,
		domain.EventAuctionSold, domain.EventReserveNotMet, domain.EventNoSale:
	default:
		return fmt.Errorf("unknown event kind %+v", *event)
	}

	if err := el.dispatcher.Dispatch(context.Background(), event); err != nil {
		return err
	}

	if event.Terminal() {
		if err := el.connectionManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
			el.log.Error("Failed to finalize connections for auction", "auction_id",
				event.AuctionID, "error", err)
			return err
		}
	}
	return nil
}
