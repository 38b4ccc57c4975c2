package services

import (
	"context"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
)

// LogNotifier stands in for the Redis collaborators when Redis is disabled.
// It satisfies both domain.Notifier and domain.SettlementPublisher.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, intent domain.NotificationIntent) error {
	n.log.Info("Notification", "type", intent.Type, "auction_id", intent.AuctionID, "user_id", intent.UserID, "payload", intent.Payload)
	return nil
}

func (n *LogNotifier) PublishSettlement(ctx context.Context, intent domain.SettlementIntent) error {
	n.log.Info("Settlement intent",
		"auction_id", intent.AuctionID,
		"winning_bid_id", intent.WinningBidID,
		"buyer_id", intent.BuyerID,
		"seller_id", intent.SellerID,
		"amount", intent.Amount.StringFixed(2))
	return nil
}
