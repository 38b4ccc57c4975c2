package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/clock"
	"auction-engine/internal/core"
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
)

const defaultMaxRetries = 5

type SubmitBidRequest struct {
	AuctionID string
	BidderID  string
	Amount    float64
	// SubmittedAt defaults to the service clock when zero.
	SubmittedAt time.Time
}

type BidServiceConfig struct {
	MaxRetries int
	// SoftClose extends EndTime to acceptedAt+SoftClose for bids accepted
	// within SoftClose of the end. Zero disables it.
	SoftClose time.Duration
}

// BidService accepts bids. Each attempt reads a snapshot, validates against
// it and writes the new bid with a compare-and-swap on the snapshot version.
type BidService struct {
	store      domain.AuctionStore
	notifier   domain.Notifier
	validator  *core.Validator
	clock      clock.Clock
	locks      *keyedMutex
	maxRetries int
	softClose  time.Duration
	log        logger.Logger
}

func NewBidService(
	store domain.AuctionStore,
	notifier domain.Notifier,
	validator *core.Validator,
	clk clock.Clock,
	cfg BidServiceConfig,
	log logger.Logger,
) *BidService {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &BidService{
		store:      store,
		notifier:   notifier,
		validator:  validator,
		clock:      clk,
		locks:      newKeyedMutex(),
		maxRetries: cfg.MaxRetries,
		softClose:  cfg.SoftClose,
		log:        log,
	}
}

type acceptedBid struct {
	bid      *domain.Bid
	outbid   *domain.Bid
	auction  *domain.Auction
	extended bool
}

// SubmitBid returns the accepted bid, a *domain.BidRejectedError, or
// domain.ErrConflict once retries are exhausted.
func (s *BidService) SubmitBid(ctx context.Context, req SubmitBidRequest) (*domain.Bid, error) {
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = s.clock.Now()
	}

	unlock, err := s.locks.Lock(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := s.tryAccept(ctx, req)
		if err == nil {
			s.log.Info("Bid accepted",
				"auction_id", req.AuctionID,
				"bid_id", res.bid.ID,
				"bidder_id", req.BidderID,
				"amount", res.bid.Amount.StringFixed(2),
				"sequence", res.bid.Sequence)
			s.notifyAccepted(ctx, res)
			return res.bid, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			if domain.IsRejected(err) {
				s.log.Debug("Bid rejected", "auction_id", req.AuctionID, "bidder_id", req.BidderID, "error", err)
			}
			return nil, err
		}
		s.log.Debug("Version conflict, retrying bid", "auction_id", req.AuctionID, "attempt", attempt+1)
	}

	s.log.Warn("Bid retries exhausted", "auction_id", req.AuctionID, "bidder_id", req.BidderID)
	return nil, fmt.Errorf("submit bid on auction %s after %d attempts: %w", req.AuctionID, s.maxRetries+1, domain.ErrConflict)
}

func (s *BidService) tryAccept(ctx context.Context, req SubmitBidRequest) (*acceptedBid, error) {
	snap, err := s.store.LoadAuction(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	auction := snap.Auction

	ledger, err := core.NewLedger(auction.ID, auction.StartingPrice, snap.Bids)
	if err != nil {
		s.log.Error("Corrupt bid ledger", "auction_id", auction.ID, "error", err)
		return nil, err
	}

	verdict := s.validator.Validate(auction, ledger.Leading(), core.ProposedBid{
		BidderID:    req.BidderID,
		Amount:      req.Amount,
		SubmittedAt: req.SubmittedAt,
	})
	if !verdict.Accepted() {
		return nil, verdict.Err(auction.ID)
	}

	now := s.clock.Now()
	bid := &domain.Bid{
		ID:          utils.GenerateID("bid"),
		AuctionID:   auction.ID,
		BidderID:    req.BidderID,
		Amount:      verdict.Amount,
		SubmittedAt: req.SubmittedAt,
		AcceptedAt:  ledger.NextAcceptedAt(now),
	}
	outbid := ledger.Append(bid)

	expected := auction.Version
	auction.CurrentPrice = ledger.CurrentPrice()
	auction.UpdatedAt = now

	extended := false
	if s.softClose > 0 && auction.EndTime.Sub(bid.AcceptedAt) < s.softClose {
		auction.EndTime = bid.AcceptedAt.Add(s.softClose)
		extended = true
	}

	if err := s.store.AppendBid(ctx, expected, auction, bid, outbid); err != nil {
		return nil, err
	}

	return &acceptedBid{bid: bid, outbid: outbid, auction: auction, extended: extended}, nil
}

// notifyAccepted runs after the write has landed; failures are logged only.
func (s *BidService) notifyAccepted(ctx context.Context, res *acceptedBid) {
	now := s.clock.Now()
	auctionID := res.auction.ID
	price := res.bid.Amount.StringFixed(2)

	intents := []domain.NotificationIntent{{
		Type:      domain.NotifyBidAccepted,
		AuctionID: auctionID,
		UserID:    res.bid.BidderID,
		Payload: map[string]interface{}{
			"bid_id":   res.bid.ID,
			"amount":   price,
			"sequence": res.bid.Sequence,
		},
		Timestamp: now,
	}}

	if res.outbid != nil && res.outbid.BidderID != res.bid.BidderID {
		intents = append(intents, domain.NotificationIntent{
			Type:      domain.NotifyOutbid,
			AuctionID: auctionID,
			UserID:    res.outbid.BidderID,
			Payload: map[string]interface{}{
				"bid_id":        res.outbid.ID,
				"current_price": price,
			},
			Timestamp: now,
		})
	}

	if res.extended {
		intents = append(intents, domain.NotificationIntent{
			Type:      domain.NotifyAuctionExtended,
			AuctionID: auctionID,
			Payload: map[string]interface{}{
				"end_time": res.auction.EndTime,
			},
			Timestamp: now,
		})
	}

	for _, intent := range intents {
		if err := s.notifier.Notify(ctx, intent); err != nil {
			s.log.Error("Failed to send notification", "type", intent.Type, "auction_id", auctionID, "user_id", intent.UserID, "error", err)
		}
	}
}
