package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"auction-engine/internal/domain"

	driver "github.com/go-sql-driver/mysql"
)

const errDuplicateEntry = 1062

func (r *MySQLAuctionStore) getBids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	query := `
        SELECT id, auction_id, bidder_id, amount, status, sequence, submitted_at, accepted_at
        FROM bids
        WHERE auction_id = ?
        ORDER BY sequence ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("load bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var bid domain.Bid
		var status string

		err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount,
			&status, &bid.Sequence, &bid.SubmittedAt, &bid.AcceptedAt)
		if err != nil {
			return nil, err
		}

		bid.Status = domain.BidStatus(status)
		bids = append(bids, &bid)
	}

	return bids, rows.Err()
}

func upsertBid(ctx context.Context, tx *sql.Tx, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (id, auction_id, bidder_id, amount, status, sequence, submitted_at, accepted_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status)
    `
	_, err := tx.ExecContext(ctx, query,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount,
		string(bid.Status), bid.Sequence, bid.SubmittedAt, bid.AcceptedAt)
	if err != nil {
		return fmt.Errorf("write bid %s: %w", bid.ID, err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var myErr *driver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}
