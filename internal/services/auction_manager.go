package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"auction-engine/internal/clock"
	"auction-engine/internal/core"
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

type CreateAuctionRequest struct {
	SellerID      string
	StartingPrice float64
	ReservePrice  *float64
	BidIncrement  *float64
	StartTime     time.Time
	EndTime       time.Time
}

// AuctionManager owns the auction lifecycle. Every transition is a guarded
// compare-and-swap: it only applies if the stored status is still one of the
// expected prior statuses, otherwise domain.ErrStaleStatus is returned.
type AuctionManager struct {
	store      domain.AuctionStore
	clock      clock.Clock
	maxRetries int
	log        logger.Logger
}

func NewAuctionManager(store domain.AuctionStore, clk clock.Clock, maxRetries int, log logger.Logger) *AuctionManager {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &AuctionManager{
		store:      store,
		clock:      clk,
		maxRetries: maxRetries,
		log:        log,
	}
}

func (am *AuctionManager) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error) {
	starting, err := money("starting price", req.StartingPrice)
	if err != nil {
		return nil, err
	}
	if req.SellerID == "" {
		return nil, fmt.Errorf("seller id is required: %w", domain.ErrInvalidAuction)
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, fmt.Errorf("end time must be after start time: %w", domain.ErrInvalidAuction)
	}

	now := am.clock.Now()
	auction := &domain.Auction{
		ID:            utils.GenerateID("auction"),
		SellerID:      req.SellerID,
		StartingPrice: starting,
		CurrentPrice:  starting,
		StartTime:     req.StartTime.UTC(),
		EndTime:       req.EndTime.UTC(),
		Status:        domain.AuctionDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.ReservePrice != nil {
		reserve, err := money("reserve price", *req.ReservePrice)
		if err != nil {
			return nil, err
		}
		auction.ReservePrice = &reserve
	}
	if req.BidIncrement != nil {
		inc, err := money("bid increment", *req.BidIncrement)
		if err != nil {
			return nil, err
		}
		auction.BidIncrement = &inc
	}

	if err := am.store.CreateAuction(ctx, auction); err != nil {
		return nil, err
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "seller_id", auction.SellerID, "end_time", auction.EndTime)
	return auction, nil
}

func money(field string, v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Zero, fmt.Errorf("%s must be a non-negative amount: %w", field, domain.ErrInvalidAuction)
	}
	return decimal.NewFromFloat(v).Round(2), nil
}

func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	return am.store.LoadAuction(ctx, auctionID)
}

func (am *AuctionManager) ActivateAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return am.transition(ctx, auctionID, domain.AuctionActive, domain.AuctionDraft)
}

func (am *AuctionManager) CancelAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return am.transition(ctx, auctionID, domain.AuctionCancelled, domain.AuctionDraft, domain.AuctionActive)
}

// EndAuction closes bidding. It fails with domain.ErrNotExpired before the
// auction's EndTime, which may have moved since the caller last looked.
func (am *AuctionManager) EndAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return am.transition(ctx, auctionID, domain.AuctionEnded, domain.AuctionActive)
}

func (am *AuctionManager) transition(ctx context.Context, auctionID string, to domain.AuctionStatus, from ...domain.AuctionStatus) (*domain.Auction, error) {
	for attempt := 0; attempt <= am.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := am.store.LoadAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		auction := snap.Auction
		if !slices.Contains(from, auction.Status) {
			return nil, fmt.Errorf("auction %s is %s, want %v: %w", auctionID, auction.Status, from, domain.ErrStaleStatus)
		}

		expected := auction.Version
		prev := auction.Status
		if err := core.Transition(auction, to, am.clock.Now()); err != nil {
			return nil, err
		}

		err = am.store.UpdateAuction(ctx, expected, auction)
		if err == nil {
			am.log.Info("Auction status changed", "auction_id", auctionID, "from", prev, "to", to)
			return auction, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
		am.log.Debug("Version conflict, retrying transition", "auction_id", auctionID, "to", to, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("move auction %s to %s: %w", auctionID, to, domain.ErrConflict)
}
