package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"auction-engine/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// MySQLAuctionStore implements domain.AuctionStore. The version column is
// the optimistic-concurrency token: every write is an UPDATE guarded by
// `version = ?`, and bid rows are written in the same transaction.
type MySQLAuctionStore struct {
	db *sql.DB
}

func NewMySQLAuctionStore(db *sql.DB) *MySQLAuctionStore {
	return &MySQLAuctionStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (r *MySQLAuctionStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *MySQLAuctionStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (id, seller_id, starting_price, current_price, reserve_price, bid_increment,
            start_time, end_time, status, winning_bid_id, version, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.StartingPrice, auction.CurrentPrice,
		nullDecimal(auction.ReservePrice), nullDecimal(auction.BidIncrement),
		auction.StartTime, auction.EndTime, int(auction.Status), nullString(auction.WinningBidID),
		auction.CreatedAt, auction.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("create auction %s: %w", auction.ID, domain.ErrAuctionExists)
		}
		return fmt.Errorf("create auction %s: %w", auction.ID, err)
	}
	auction.Version = 1
	return nil
}

func (r *MySQLAuctionStore) LoadAuction(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	query := `
        SELECT id, seller_id, starting_price, current_price, reserve_price, bid_increment,
            start_time, end_time, status, winning_bid_id, version, created_at, updated_at
        FROM auctions WHERE id = ?
    `

	var auction domain.Auction
	var status int
	var reserve, increment decimal.NullDecimal
	var winning sql.NullString

	err := r.db.QueryRowContext(ctx, query, auctionID).Scan(
		&auction.ID, &auction.SellerID, &auction.StartingPrice, &auction.CurrentPrice,
		&reserve, &increment, &auction.StartTime, &auction.EndTime,
		&status, &winning, &auction.Version, &auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load auction %s: %w", auctionID, domain.ErrAuctionNotFound)
		}
		return nil, fmt.Errorf("load auction %s: %w", auctionID, err)
	}

	auction.Status = domain.AuctionStatus(status)
	if reserve.Valid {
		auction.ReservePrice = &reserve.Decimal
	}
	if increment.Valid {
		auction.BidIncrement = &increment.Decimal
	}
	if winning.Valid {
		auction.WinningBidID = &winning.String
	}

	bids, err := r.getBids(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	return &domain.AuctionSnapshot{Auction: &auction, Bids: bids}, nil
}

func (r *MySQLAuctionStore) UpdateAuction(ctx context.Context, expectedVersion int64, auction *domain.Auction, bids ...*domain.Bid) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update auction %s: %w", auction.ID, err)
	}
	defer tx.Rollback()

	query := `
        UPDATE auctions
        SET current_price = ?, reserve_price = ?, bid_increment = ?, start_time = ?, end_time = ?,
            status = ?, winning_bid_id = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND version = ?
    `
	res, err := tx.ExecContext(ctx, query,
		auction.CurrentPrice, nullDecimal(auction.ReservePrice), nullDecimal(auction.BidIncrement),
		auction.StartTime, auction.EndTime, int(auction.Status), nullString(auction.WinningBidID),
		auction.UpdatedAt, auction.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update auction %s: %w", auction.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update auction %s: %w", auction.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update auction %s at version %d: %w", auction.ID, expectedVersion, domain.ErrVersionConflict)
	}

	for _, bid := range bids {
		if err := upsertBid(ctx, tx, bid); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update auction %s: %w", auction.ID, err)
	}
	auction.Version = expectedVersion + 1
	return nil
}

func (r *MySQLAuctionStore) AppendBid(ctx context.Context, expectedVersion int64, auction *domain.Auction, bid *domain.Bid, outbid *domain.Bid) error {
	bids := []*domain.Bid{bid}
	if outbid != nil {
		bids = append(bids, outbid)
	}
	return r.UpdateAuction(ctx, expectedVersion, auction, bids...)
}

func (r *MySQLAuctionStore) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
        SELECT id FROM auctions
        WHERE status = ? AND end_time <= ?
        ORDER BY end_time ASC
        LIMIT ?
    `
	return r.listIDs(ctx, query, int(domain.AuctionActive), now, limitOrMax(limit))
}

func (r *MySQLAuctionStore) ListByStatus(ctx context.Context, status domain.AuctionStatus, limit int) ([]string, error) {
	query := `
        SELECT id FROM auctions
        WHERE status = ?
        ORDER BY end_time ASC
        LIMIT ?
    `
	return r.listIDs(ctx, query, int(status), limitOrMax(limit))
}

func (r *MySQLAuctionStore) listIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func limitOrMax(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
