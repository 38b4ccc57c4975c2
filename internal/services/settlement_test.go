package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"auction-engine/internal/domain"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) endAt(t *testing.T, a *domain.Auction) {
	t.Helper()
	h.clock.Set(a.EndTime)
	_, err := h.manager.EndAuction(context.Background(), a.ID)
	require.NoError(t, err)
}

func TestSettle_Won(t *testing.T) {
	h := newHarness(t)
	h.allowBidNotifications()
	a := h.activeAuction(t, 100, floatPtr(5), nil)

	first, err := h.bid(t, a.ID, "alice", 105)
	require.NoError(t, err)
	_, err = h.bid(t, a.ID, "bob", 103)
	require.Error(t, err)
	winner, err := h.bid(t, a.ID, "carol", 110)
	require.NoError(t, err)
	h.endAt(t, a)

	var intent domain.SettlementIntent
	h.notifier.EXPECT().Notify(gomock.Any(), intentOf(domain.NotifyAuctionWon).forUser("carol")).Return(nil)
	h.payments.EXPECT().PublishSettlement(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in domain.SettlementIntent) error {
			intent = in
			return nil
		})

	outcome, err := h.settlement.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWon, outcome.Reason)
	require.NotNil(t, outcome.WinningBidID)
	assert.Equal(t, winner.ID, *outcome.WinningBidID)
	assert.Equal(t, "110.00", outcome.FinalPrice.StringFixed(2))

	assert.Equal(t, winner.ID, intent.WinningBidID)
	assert.Equal(t, "carol", intent.BuyerID)
	assert.Equal(t, "seller", intent.SellerID)
	assert.Equal(t, "110.00", intent.Amount.StringFixed(2))

	snap := h.load(t, a.ID)
	assert.Equal(t, domain.AuctionSettled, snap.Auction.Status)
	assert.Equal(t, winner.ID, *snap.Auction.WinningBidID)
	assert.Equal(t, domain.BidWinning, bidByID(snap, winner.ID).Status)
	assert.Equal(t, domain.BidOutbid, bidByID(snap, first.ID).Status)
}

func TestSettle_ReserveNotMet(t *testing.T) {
	h := newHarness(t)
	h.allowBidNotifications()
	a := h.activeAuction(t, 100, floatPtr(5), floatPtr(200))

	b, err := h.bid(t, a.ID, "alice", 150)
	require.NoError(t, err)
	h.endAt(t, a)

	h.notifier.EXPECT().Notify(gomock.Any(), intentOf(domain.NotifyAuctionUnsold).forUser("seller")).Return(nil)

	outcome, err := h.settlement.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReserveNotMet, outcome.Reason)
	assert.Nil(t, outcome.WinningBidID)

	snap := h.load(t, a.ID)
	assert.Equal(t, domain.AuctionUnsold, snap.Auction.Status)
	assert.Nil(t, snap.Auction.WinningBidID)
	assert.Equal(t, domain.BidOutbid, bidByID(snap, b.ID).Status)
}

func TestSettle_NoBids(t *testing.T) {
	h := newHarness(t)
	a := h.activeAuction(t, 100, nil, nil)
	h.endAt(t, a)

	h.notifier.EXPECT().Notify(gomock.Any(), intentOf(domain.NotifyAuctionUnsold)).Return(nil)

	outcome, err := h.settlement.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoBids, outcome.Reason)
	assert.Equal(t, domain.AuctionUnsold, h.load(t, a.ID).Auction.Status)
}

func TestSettle_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.allowBidNotifications()
	a := h.activeAuction(t, 100, nil, nil)
	_, err := h.bid(t, a.ID, "alice", 120)
	require.NoError(t, err)
	h.endAt(t, a)

	h.notifier.EXPECT().Notify(gomock.Any(), intentOf(domain.NotifyAuctionWon)).Return(nil).Times(1)
	h.payments.EXPECT().PublishSettlement(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	_, err = h.settlement.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	before := h.load(t, a.ID)

	_, err = h.settlement.Settle(context.Background(), a.ID)
	assert.ErrorIs(t, err, domain.ErrStaleStatus)
	assert.Equal(t, before.Auction.Version, h.load(t, a.ID).Auction.Version)
}

func TestSettle_RequiresEnded(t *testing.T) {
	h := newHarness(t)
	a := h.activeAuction(t, 100, nil, nil)

	_, err := h.settlement.Settle(context.Background(), a.ID)
	assert.ErrorIs(t, err, domain.ErrStaleStatus)
}

func TestSettle_PaymentFailureKeepsSettled(t *testing.T) {
	h := newHarness(t)
	h.allowBidNotifications()
	a := h.activeAuction(t, 100, nil, nil)
	_, err := h.bid(t, a.ID, "alice", 120)
	require.NoError(t, err)
	h.endAt(t, a)

	h.notifier.EXPECT().Notify(gomock.Any(), intentOf(domain.NotifyAuctionWon)).Return(errors.New("socket closed"))
	h.payments.EXPECT().PublishSettlement(gomock.Any(), gomock.Any()).Return(errors.New("queue unavailable"))

	outcome, err := h.settlement.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWon, outcome.Reason)
	assert.Equal(t, domain.AuctionSettled, h.load(t, a.ID).Auction.Status)
}

func TestSettle_HonorsContext(t *testing.T) {
	h := newHarness(t)
	a := h.activeAuction(t, 100, nil, nil)
	h.clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.settlement.Settle(ctx, a.ID)
	assert.ErrorIs(t, err, context.Canceled)
}
