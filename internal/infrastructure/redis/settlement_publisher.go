package redis

import (
	"context"
	"encoding/json"

	"auction-engine/internal/domain"

	"github.com/go-redis/redis/v8"
)

const DefaultSettlementQueue = "settlement_intents"

// SettlementPublisher pushes settlement intents onto a Redis list that the
// payment service consumes with BRPOP. Unlike pub/sub, intents survive until
// a consumer takes them.
type SettlementPublisher struct {
	client *redis.Client
	queue  string
}

func NewSettlementPublisher(client *redis.Client, queue string) *SettlementPublisher {
	if queue == "" {
		queue = DefaultSettlementQueue
	}
	return &SettlementPublisher{client: client, queue: queue}
}

func (p *SettlementPublisher) PublishSettlement(ctx context.Context, intent domain.SettlementIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return p.client.LPush(ctx, p.queue, data).Err()
}
