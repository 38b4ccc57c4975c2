package redis

import (
	"context"
	"encoding/json"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type EventSubscriber struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

func NewEventSubscriber(client *redis.Client, channel string, log logger.Logger) *EventSubscriber {
	if channel == "" {
		channel = DefaultNotificationChannel
	}
	return &EventSubscriber{
		client:  client,
		channel: channel,
		log:     log,
	}
}

// SubscribeToNotifications blocks until ctx is done, invoking handler for
// every intent received. Malformed payloads are logged and skipped.
func (r *EventSubscriber) SubscribeToNotifications(ctx context.Context, handler domain.EventHandler) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reading messages.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()

	r.log.Info("Subscribed to auction notifications", "channel", r.channel)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var intent domain.NotificationIntent
			if err := json.Unmarshal([]byte(msg.Payload), &intent); err != nil {
				r.log.Error("Failed to parse notification", "payload", msg.Payload, "error", err)
				continue
			}

			if err := handler(&intent); err != nil {
				r.log.Error("Failed to handle notification", "type", intent.Type, "auction_id", intent.AuctionID, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Notification subscriber stopped")
			return ctx.Err()
		}
	}
}
