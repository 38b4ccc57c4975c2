// Package storetest holds behaviour tests shared by every domain.AuctionStore
// implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAuction(id string, status domain.AuctionStatus, end time.Time) *domain.Auction {
	reserve := decimal.NewFromInt(200)
	return &domain.Auction{
		ID:            id,
		SellerID:      "seller",
		StartingPrice: decimal.NewFromInt(100),
		CurrentPrice:  decimal.NewFromInt(100),
		ReservePrice:  &reserve,
		StartTime:     base,
		EndTime:       end,
		Status:        status,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
}

// Run exercises the compare-and-swap contract against a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) domain.AuctionStore) {
	t.Run("create and load", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := newAuction("a1", domain.AuctionDraft, base.Add(time.Hour))
		require.NoError(t, s.CreateAuction(ctx, a))
		assert.Equal(t, int64(1), a.Version)

		snap, err := s.LoadAuction(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "seller", snap.Auction.SellerID)
		assert.Equal(t, int64(1), snap.Auction.Version)
		assert.True(t, snap.Auction.StartingPrice.Equal(decimal.NewFromInt(100)))
		require.NotNil(t, snap.Auction.ReservePrice)
		assert.True(t, snap.Auction.ReservePrice.Equal(decimal.NewFromInt(200)))
		assert.Nil(t, snap.Auction.BidIncrement)
		assert.Empty(t, snap.Bids)

		err = s.CreateAuction(ctx, newAuction("a1", domain.AuctionDraft, base))
		assert.ErrorIs(t, err, domain.ErrAuctionExists)
	})

	t.Run("load missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadAuction(context.Background(), "nope")
		assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
	})

	t.Run("update checks version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAuction(ctx, newAuction("a1", domain.AuctionDraft, base.Add(time.Hour))))

		snap, err := s.LoadAuction(ctx, "a1")
		require.NoError(t, err)
		snap.Auction.Status = domain.AuctionActive
		require.NoError(t, s.UpdateAuction(ctx, 1, snap.Auction))
		assert.Equal(t, int64(2), snap.Auction.Version)

		stale := snap.Auction.Clone()
		stale.Status = domain.AuctionCancelled
		err = s.UpdateAuction(ctx, 1, stale)
		assert.ErrorIs(t, err, domain.ErrVersionConflict)

		reloaded, err := s.LoadAuction(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, domain.AuctionActive, reloaded.Auction.Status)
		assert.Equal(t, int64(2), reloaded.Auction.Version)
	})

	t.Run("append bid writes auction and bids together", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAuction(ctx, newAuction("a1", domain.AuctionActive, base.Add(time.Hour))))

		snap, err := s.LoadAuction(ctx, "a1")
		require.NoError(t, err)

		first := &domain.Bid{ID: "b1", AuctionID: "a1", BidderID: "alice", Amount: decimal.NewFromInt(105),
			Status: domain.BidLeading, Sequence: 1, SubmittedAt: base, AcceptedAt: base}
		snap.Auction.CurrentPrice = first.Amount
		require.NoError(t, s.AppendBid(ctx, snap.Auction.Version, snap.Auction, first, nil))

		second := &domain.Bid{ID: "b2", AuctionID: "a1", BidderID: "bob", Amount: decimal.NewFromInt(110),
			Status: domain.BidLeading, Sequence: 2, SubmittedAt: base, AcceptedAt: base.Add(time.Second)}
		outbid := *first
		outbid.Status = domain.BidOutbid
		snap.Auction.CurrentPrice = second.Amount
		require.NoError(t, s.AppendBid(ctx, snap.Auction.Version, snap.Auction, second, &outbid))

		loaded, err := s.LoadAuction(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), loaded.Auction.Version)
		assert.True(t, loaded.Auction.CurrentPrice.Equal(decimal.NewFromInt(110)))
		require.Len(t, loaded.Bids, 2)
		byID := map[string]*domain.Bid{}
		for _, b := range loaded.Bids {
			byID[b.ID] = b
		}
		assert.Equal(t, domain.BidOutbid, byID["b1"].Status)
		assert.Equal(t, domain.BidLeading, byID["b2"].Status)
		assert.Equal(t, int64(2), byID["b2"].Sequence)

		late := &domain.Bid{ID: "b3", AuctionID: "a1", BidderID: "carol", Amount: decimal.NewFromInt(120),
			Status: domain.BidLeading, Sequence: 3, SubmittedAt: base, AcceptedAt: base.Add(2 * time.Second)}
		err = s.AppendBid(ctx, 2, snap.Auction, late, nil)
		assert.ErrorIs(t, err, domain.ErrVersionConflict)

		loaded, err = s.LoadAuction(ctx, "a1")
		require.NoError(t, err)
		assert.Len(t, loaded.Bids, 2)
	})

	t.Run("concurrent writers at the same version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAuction(ctx, newAuction("a1", domain.AuctionActive, base.Add(time.Hour))))

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				snap, err := s.LoadAuction(ctx, "a1")
				if err != nil {
					results <- err
					return
				}
				snap.Auction.Status = domain.AuctionEnded
				results <- s.UpdateAuction(ctx, 1, snap.Auction)
			}()
		}
		wg.Wait()
		close(results)

		var ok, conflicts int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrVersionConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, writers-1, conflicts)
	})

	t.Run("list expired active and by status", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAuction(ctx, newAuction("late", domain.AuctionActive, base.Add(2*time.Minute))))
		require.NoError(t, s.CreateAuction(ctx, newAuction("early", domain.AuctionActive, base.Add(time.Minute))))
		require.NoError(t, s.CreateAuction(ctx, newAuction("future", domain.AuctionActive, base.Add(time.Hour))))
		require.NoError(t, s.CreateAuction(ctx, newAuction("ended", domain.AuctionEnded, base)))
		require.NoError(t, s.CreateAuction(ctx, newAuction("draft", domain.AuctionDraft, base)))

		ids, err := s.ListExpiredActive(ctx, base.Add(2*time.Minute), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"early", "late"}, ids)

		ids, err = s.ListExpiredActive(ctx, base.Add(2*time.Minute), 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"early"}, ids)

		ids, err = s.ListByStatus(ctx, domain.AuctionEnded, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"ended"}, ids)
	})
}
