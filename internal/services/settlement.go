package services

import (
	"context"
	"errors"
	"fmt"

	"auction-engine/internal/clock"
	"auction-engine/internal/core"
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
)

// SettlementCoordinator turns an Ended auction into Settled or Unsold and
// hands the result to downstream collaborators.
type SettlementCoordinator struct {
	store      domain.AuctionStore
	notifier   domain.Notifier
	payments   domain.SettlementPublisher
	clock      clock.Clock
	maxRetries int
	log        logger.Logger
}

func NewSettlementCoordinator(
	store domain.AuctionStore,
	notifier domain.Notifier,
	payments domain.SettlementPublisher,
	clk clock.Clock,
	maxRetries int,
	log logger.Logger,
) *SettlementCoordinator {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &SettlementCoordinator{
		store:      store,
		notifier:   notifier,
		payments:   payments,
		clock:      clk,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Settle is idempotent: once the auction has left Ended it returns
// domain.ErrStaleStatus without side effects.
func (sc *SettlementCoordinator) Settle(ctx context.Context, auctionID string) (*domain.Outcome, error) {
	for attempt := 0; attempt <= sc.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome, auction, err := sc.trySettle(ctx, auctionID)
		if err == nil {
			sc.log.Info("Auction settled",
				"auction_id", auctionID,
				"reason", outcome.Reason,
				"final_price", outcome.FinalPrice.StringFixed(2),
				"status", auction.Status)
			sc.handOff(ctx, auction, outcome)
			return outcome, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
		sc.log.Debug("Version conflict, retrying settlement", "auction_id", auctionID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("settle auction %s: %w", auctionID, domain.ErrConflict)
}

func (sc *SettlementCoordinator) trySettle(ctx context.Context, auctionID string) (*domain.Outcome, *domain.Auction, error) {
	snap, err := sc.store.LoadAuction(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	auction := snap.Auction
	if auction.Status != domain.AuctionEnded {
		return nil, nil, fmt.Errorf("settle auction %s in status %s: %w", auctionID, auction.Status, domain.ErrStaleStatus)
	}

	ledger, err := core.NewLedger(auction.ID, auction.StartingPrice, snap.Bids)
	if err != nil {
		sc.log.Error("Corrupt bid ledger", "auction_id", auctionID, "error", err)
		return nil, nil, err
	}

	outcome := core.DecideOutcome(auction, ledger)
	expected := auction.Version
	changed, err := core.ApplyOutcome(auction, ledger, outcome, sc.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	if err := core.CheckInvariants(&domain.AuctionSnapshot{Auction: auction, Bids: ledger.Bids()}); err != nil {
		sc.log.Error("Refusing to persist settlement", "auction_id", auctionID, "error", err)
		return nil, nil, err
	}

	if err := sc.store.UpdateAuction(ctx, expected, auction, changed...); err != nil {
		return nil, nil, err
	}
	return &outcome, auction, nil
}

// handOff never reverts the committed status; failures are left to the
// collaborators' own retry.
func (sc *SettlementCoordinator) handOff(ctx context.Context, auction *domain.Auction, outcome *domain.Outcome) {
	now := sc.clock.Now()
	price := outcome.FinalPrice.StringFixed(2)

	if outcome.Reason != domain.OutcomeWon {
		sc.notify(ctx, domain.NotificationIntent{
			Type:      domain.NotifyAuctionUnsold,
			AuctionID: auction.ID,
			UserID:    auction.SellerID,
			Payload: map[string]interface{}{
				"reason":      string(outcome.Reason),
				"final_price": price,
			},
			Timestamp: now,
		})
		return
	}

	sc.notify(ctx, domain.NotificationIntent{
		Type:      domain.NotifyAuctionWon,
		AuctionID: auction.ID,
		UserID:    outcome.BuyerID,
		Payload: map[string]interface{}{
			"winning_bid_id": *outcome.WinningBidID,
			"final_price":    price,
		},
		Timestamp: now,
	})

	intent := domain.SettlementIntent{
		AuctionID:    auction.ID,
		WinningBidID: *outcome.WinningBidID,
		BuyerID:      outcome.BuyerID,
		SellerID:     auction.SellerID,
		Amount:       outcome.FinalPrice,
		SettledAt:    now,
	}
	if err := sc.payments.PublishSettlement(ctx, intent); err != nil {
		sc.log.Error("Failed to publish settlement intent", "auction_id", auction.ID, "winning_bid_id", intent.WinningBidID, "error", err)
	}
}

func (sc *SettlementCoordinator) notify(ctx context.Context, intent domain.NotificationIntent) {
	if err := sc.notifier.Notify(ctx, intent); err != nil {
		sc.log.Error("Failed to send notification", "type", intent.Type, "auction_id", intent.AuctionID, "error", err)
	}
}
