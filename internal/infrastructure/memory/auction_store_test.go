package memory

import (
	"context"
	"testing"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/internal/infrastructure/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuctionStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.AuctionStore {
		return NewAuctionStore()
	})
}

func TestAuctionStore_SnapshotsAreIsolated(t *testing.T) {
	s := NewAuctionStore()
	ctx := context.Background()
	a := &domain.Auction{ID: "a1", StartingPrice: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(10), EndTime: time.Now()}
	require.NoError(t, s.CreateAuction(ctx, a))

	a.SellerID = "mutated"
	snap, err := s.LoadAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, snap.Auction.SellerID)

	snap.Auction.SellerID = "mutated again"
	again, err := s.LoadAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, again.Auction.SellerID)
}

func TestAuctionStore_HonorsCancelledContext(t *testing.T) {
	s := NewAuctionStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.LoadAuction(ctx, "a1")
	assert.ErrorIs(t, err, context.Canceled)
}
