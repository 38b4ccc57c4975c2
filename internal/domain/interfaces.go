package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks auction-engine/internal/domain Notifier,SettlementPublisher

// AuctionStore persists auctions together with their bids. Every write is a
// compare-and-swap against the version last read; on mismatch it returns
// ErrVersionConflict and leaves storage untouched.
type AuctionStore interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	LoadAuction(ctx context.Context, auctionID string) (*AuctionSnapshot, error)
	// UpdateAuction writes auction and upserts bids if the stored version
	// still equals expectedVersion. On success auction.Version is bumped.
	UpdateAuction(ctx context.Context, expectedVersion int64, auction *Auction, bids ...*Bid) error
	// AppendBid inserts bid and, when outbid is non-nil, persists its new
	// status, in the same conditional write as UpdateAuction.
	AppendBid(ctx context.Context, expectedVersion int64, auction *Auction, bid *Bid, outbid *Bid) error
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListByStatus(ctx context.Context, status AuctionStatus, limit int) ([]string, error)
}

// Notifier receives fire-and-forget notification intents.
type Notifier interface {
	Notify(ctx context.Context, intent NotificationIntent) error
}

// SettlementPublisher hands a won auction to the payment collaborator.
type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, intent SettlementIntent) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	RefreshLeadership(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// IncrementRules supplies the default minimum bid step for auctions that do
// not carry their own increment.
type IncrementRules interface {
	LoadRules(ctx context.Context) error
	Tiers() []IncrementTier
}

// EventSubscriber streams notification intents published by other instances.
type EventSubscriber interface {
	SubscribeToNotifications(ctx context.Context, handler EventHandler) error
}

type EventHandler func(intent *NotificationIntent) error

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(userID, auctionID string, conn WebSocketConnection) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
