// Package boltdb provides an embedded, single-file AuctionStore backed by
// BoltDB. Each auction and its bids are stored as one JSON document, so a
// compare-and-swap is a read-check-write inside a single bolt.Update
// transaction. Bolt serializes writers, which makes the version check atomic.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"auction-engine/internal/domain"

	bolt "go.etcd.io/bbolt"
)

const auctionsBucket = "auctions"

type AuctionStore struct {
	db *bolt.DB
}

// Open opens (or creates) the database file and ensures the bucket exists.
func Open(path string) (*AuctionStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(auctionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &AuctionStore{db: db}, nil
}

// Close releases the database file lock.
func (s *AuctionStore) Close() error {
	return s.db.Close()
}

func (s *AuctionStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(auctionsBucket))
		if b.Get([]byte(auction.ID)) != nil {
			return fmt.Errorf("create auction %s: %w", auction.ID, domain.ErrAuctionExists)
		}
		stored := auction.Clone()
		stored.Version = 1
		if err := put(b, &domain.AuctionSnapshot{Auction: stored, Bids: []*domain.Bid{}}); err != nil {
			return err
		}
		auction.Version = 1
		return nil
	})
}

func (s *AuctionStore) LoadAuction(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snap *domain.AuctionSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		snap, err = get(tx.Bucket([]byte(auctionsBucket)), auctionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *AuctionStore) UpdateAuction(ctx context.Context, expectedVersion int64, auction *domain.Auction, bids ...*domain.Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(auctionsBucket))
		current, err := get(b, auction.ID)
		if err != nil {
			return err
		}
		if current.Auction.Version != expectedVersion {
			return fmt.Errorf("update auction %s at version %d: %w", auction.ID, expectedVersion, domain.ErrVersionConflict)
		}

		next := &domain.AuctionSnapshot{Auction: auction.Clone(), Bids: current.Bids}
		next.Auction.Version = expectedVersion + 1
		for _, bid := range bids {
			upsertBid(next, bid)
		}
		return put(b, next)
	})
	if err != nil {
		return err
	}
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
	return s.scan(ctx, limit, func(a *domain.Auction) bool {
		return a.Status == domain.AuctionActive && !a.EndTime.After(now)
	})
}

func (s *AuctionStore) ListByStatus(ctx context.Context, status domain.AuctionStatus, limit int) ([]string, error) {
	return s.scan(ctx, limit, func(a *domain.Auction) bool {
		return a.Status == status
	})
}

func (s *AuctionStore) scan(ctx context.Context, limit int, match func(*domain.Auction) bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var matched []*domain.Auction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(auctionsBucket)).ForEach(func(k, v []byte) error {
			var snap domain.AuctionSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("decode auction %s: %w", k, err)
			}
			if match(snap.Auction) {
				matched = append(matched, snap.Auction)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
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

func get(b *bolt.Bucket, auctionID string) (*domain.AuctionSnapshot, error) {
	v := b.Get([]byte(auctionID))
	if v == nil {
		return nil, fmt.Errorf("load auction %s: %w", auctionID, domain.ErrAuctionNotFound)
	}
	var snap domain.AuctionSnapshot
	if err := json.Unmarshal(v, &snap); err != nil {
		return nil, fmt.Errorf("decode auction %s: %w", auctionID, err)
	}
	return &snap, nil
}

func put(b *bolt.Bucket, snap *domain.AuctionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return b.Put([]byte(snap.Auction.ID), data)
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
