package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-engine/internal/domain"
)

// AuctionStore is a concurrency-safe in-memory implementation of
// domain.AuctionStore. Snapshots are deep-copied on the way in and out.
type AuctionStore struct {
	mu       sync.RWMutex
	auctions map[string]*domain.AuctionSnapshot
}

func NewAuctionStore() *AuctionStore {
	return &AuctionStore{
		auctions: make(map[string]*domain.AuctionSnapshot),
	}
}

func (s *AuctionStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[auction.ID]; ok {
		return fmt.Errorf("create auction %s: %w", auction.ID, domain.ErrAuctionExists)
	}
	auction.Version = 1
	s.auctions[auction.ID] = &domain.AuctionSnapshot{Auction: auction.Clone()}
	return nil
}

func (s *AuctionStore) LoadAuction(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.auctions[auctionID]
	if !ok {
		return nil, fmt.Errorf("load auction %s: %w", auctionID, domain.ErrAuctionNotFound)
	}
	return snap.Clone(), nil
}

func (s *AuctionStore) UpdateAuction(ctx context.Context, expectedVersion int64, auction *domain.Auction, bids ...*domain.Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.auctions[auction.ID]
	if !ok {
		return fmt.Errorf("update auction %s: %w", auction.ID, domain.ErrAuctionNotFound)
	}
	if snap.Auction.Version != expectedVersion {
		return fmt.Errorf("update auction %s at version %d: %w", auction.ID, expectedVersion, domain.ErrVersionConflict)
	}

	next := &domain.AuctionSnapshot{Auction: auction.Clone(), Bids: snap.Clone().Bids}
	for _, b := range bids {
		upsertBid(next, b)
	}
	next.Auction.Version = expectedVersion + 1
	s.auctions[auction.ID] = next
	auction.Version = expectedVersion + 1
	return nil
}

func (s *AuctionStore) AppendBid(ctx context.Context, expectedVersion int64, auction *domain.Auction, bid *domain.Bid, outbid *domain.Bid) error {
	bids := []*domain.Bid{bid}
	if outbid != nil {
		bids = append(bids, outbid)
	}
	return s.UpdateAuction(ctx, expectedVersion, auction, bids...)
}

func (s *AuctionStore) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.list(ctx, limit, func(a *domain.Auction) bool {
		return a.Status == domain.AuctionActive && !a.EndTime.After(now)
	})
}

func (s *AuctionStore) ListByStatus(ctx context.Context, status domain.AuctionStatus, limit int) ([]string, error) {
	return s.list(ctx, limit, func(a *domain.Auction) bool {
		return a.Status == status
	})
}

func (s *AuctionStore) list(ctx context.Context, limit int, match func(*domain.Auction) bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Auction
	for _, snap := range s.auctions {
		if match(snap.Auction) {
			matched = append(matched, snap.Auction)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].EndTime.Before(matched[j].EndTime) })

	ids := make([]string, 0, len(matched))
	for _, a := range matched {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func upsertBid(snap *domain.AuctionSnapshot, bid *domain.Bid) {
	c := *bid
	for i, existing := range snap.Bids {
		if existing.ID == bid.ID {
			snap.Bids[i] = &c
			return
		}
	}
	snap.Bids = append(snap.Bids, &c)
}
