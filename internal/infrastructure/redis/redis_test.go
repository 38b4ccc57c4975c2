package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestSettlementPublisher_PushesToQueue(t *testing.T) {
	client, mr := newClient(t)
	pub := NewSettlementPublisher(client, "")

	intent := domain.SettlementIntent{
		AuctionID:    "a1",
		WinningBidID: "b2",
		BuyerID:      "bob",
		SellerID:     "seller",
		Amount:       decimal.RequireFromString("210.50"),
		SettledAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishSettlement(context.Background(), intent))

	items, err := mr.List(DefaultSettlementQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var got domain.SettlementIntent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &got))
	assert.Equal(t, "b2", got.WinningBidID)
	assert.True(t, got.Amount.Equal(intent.Amount))
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	client, _ := newClient(t)
	pub := NewEventPublisher(client, "test_notifications")
	sub := NewEventSubscriber(client, "test_notifications", logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *domain.NotificationIntent, 1)
	done := make(chan error, 1)
	go func() {
		done <- sub.SubscribeToNotifications(ctx, func(intent *domain.NotificationIntent) error {
			received <- intent
			return nil
		})
	}()

	// Publish until the subscriber is attached; pub/sub drops messages sent
	// before SUBSCRIBE.
	intent := domain.NotificationIntent{Type: domain.NotifyOutbid, AuctionID: "a1", UserID: "alice"}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case got := <-received:
			assert.Equal(t, domain.NotifyOutbid, got.Type)
			assert.Equal(t, "alice", got.UserID)
			cancel()
			<-done
			return
		case <-ticker.C:
			require.NoError(t, pub.Notify(ctx, intent))
		case <-ctx.Done():
			t.Fatal("notification not received")
		}
	}
}

func TestIncrementRules_SeedsDefaults(t *testing.T) {
	client, mr := newClient(t)
	rules := NewIncrementRules(client, nil)

	require.NoError(t, rules.LoadRules(context.Background()))
	assert.Len(t, rules.Tiers(), 3)
	assert.True(t, mr.Exists(rulesKey))
}

func TestIncrementRules_PrefersStoredTable(t *testing.T) {
	client, mr := newClient(t)
	require.NoError(t, mr.Set(rulesKey, `{"rules":{"0-50":1,"50+":2}}`))

	rules := NewIncrementRules(client, nil)
	require.NoError(t, rules.LoadRules(context.Background()))

	tiers := rules.Tiers()
	require.Len(t, tiers, 2)
	assert.True(t, tiers[0].Step.Equal(decimal.NewFromInt(1)))
	assert.Nil(t, tiers[1].To)
}

func TestIncrementRules_RejectsMalformedBand(t *testing.T) {
	client, mr := newClient(t)
	require.NoError(t, mr.Set(rulesKey, `{"rules":{"cheap":1}}`))

	rules := NewIncrementRules(client, nil)
	assert.Error(t, rules.LoadRules(context.Background()))
}
