package services

import (
	"context"
	"fmt"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
)

// EventListener relays notification intents from the bus to websocket
// watchers. Personal intents go to the addressed user; auction-wide facts
// are also broadcast to everyone watching the auction.
type EventListener struct {
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(connectionManager domain.ConnectionManager, log logger.Logger) *EventListener {
	return &EventListener{
		connectionManager: connectionManager,
		log:               log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToNotifications(ctx, el.HandleIntent)
}

func (el *EventListener) HandleIntent(intent *domain.NotificationIntent) error {
	el.log.Debug("Handling notification", "type", intent.Type, "auction_id", intent.AuctionID, "user_id", intent.UserID)

	switch intent.Type {
	case domain.NotifyBidAccepted:
		if err := el.notifyUser(intent); err != nil {
			return err
		}
		return el.connectionManager.BroadcastToAuction(intent.AuctionID, map[string]interface{}{
			"type":          "bid_update",
			"auction_id":    intent.AuctionID,
			"current_price": intent.Payload["amount"],
			"leader_id":     intent.UserID,
			"timestamp":     intent.Timestamp,
		})
	case domain.NotifyOutbid:
		return el.notifyUser(intent)
	case domain.NotifyAuctionExtended:
		return el.connectionManager.BroadcastToAuction(intent.AuctionID, message(intent))
	case domain.NotifyAuctionWon, domain.NotifyAuctionUnsold:
		return el.handleAuctionClosed(intent)
	}

	return fmt.Errorf("unknown notification type %q", intent.Type)
}

func (el *EventListener) handleAuctionClosed(intent *domain.NotificationIntent) error {
	if err := el.notifyUser(intent); err != nil {
		return err
	}

	if err := el.connectionManager.BroadcastToAuction(intent.AuctionID, map[string]interface{}{
		"type":        "auction_closed",
		"auction_id":  intent.AuctionID,
		"outcome":     intent.Type,
		"final_price": intent.Payload["final_price"],
		"timestamp":   intent.Timestamp,
	}); err != nil {
		el.log.Error("Failed to broadcast auction closed event", "auction_id", intent.AuctionID, "error", err)
		return err
	}

	return el.connectionManager.CloseAndUnregisterConnections(intent.AuctionID)
}

func (el *EventListener) notifyUser(intent *domain.NotificationIntent) error {
	if intent.UserID == "" {
		return nil
	}
	return el.connectionManager.NotifyUser(intent.UserID, message(intent))
}

func message(intent *domain.NotificationIntent) map[string]interface{} {
	msg := map[string]interface{}{
		"type":       intent.Type,
		"auction_id": intent.AuctionID,
		"timestamp":  intent.Timestamp,
	}
	for k, v := range intent.Payload {
		msg[k] = v
	}
	return msg
}
