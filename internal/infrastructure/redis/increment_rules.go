package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"auction-engine/internal/domain"

	"github.com/go-redis/redis/v8"
)

const rulesKey = "bid_validation_rules"

// IncrementRules keeps the default increment table in Redis so every
// instance validates against the same tiers. The first instance to start
// seeds the key from its configured defaults.
type IncrementRules struct {
	client   *redis.Client
	defaults *domain.BidValidationRules

	mu    sync.RWMutex
	tiers []domain.IncrementTier
}

func NewIncrementRules(client *redis.Client, defaults *domain.BidValidationRules) *IncrementRules {
	if defaults == nil {
		defaults = domain.DefaultBidValidationRules()
	}
	return &IncrementRules{
		client:   client,
		defaults: defaults,
	}
}

func (v *IncrementRules) LoadRules(ctx context.Context) error {
	rules := v.defaults

	data, err := v.client.Get(ctx, rulesKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		if err := v.saveRules(ctx, rules); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		var stored domain.BidValidationRules
		if err := json.Unmarshal([]byte(data), &stored); err != nil {
			return err
		}
		rules = &stored
	}

	tiers, err := rules.Tiers()
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.tiers = tiers
	v.mu.Unlock()
	return nil
}

func (v *IncrementRules) Tiers() []domain.IncrementTier {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tiers
}

func (v *IncrementRules) saveRules(ctx context.Context, rules *domain.BidValidationRules) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}

	// SETNX so that concurrent first starts agree on one table.
	return v.client.SetNX(ctx, rulesKey, string(data), 0).Err()
}
