package redis

import (
	"context"
	"encoding/json"

	"auction-engine/internal/domain"

	"github.com/go-redis/redis/v8"
)

const DefaultNotificationChannel = "auction_notifications"

// EventPublisher fans notification intents out over Redis pub/sub. Delivery
// to end users is the subscribers' business.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	if channel == "" {
		channel = DefaultNotificationChannel
	}
	return &EventPublisher{client: client, channel: channel}
}

func (p *EventPublisher) Notify(ctx context.Context, intent domain.NotificationIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}
