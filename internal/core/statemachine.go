package core

import (
	"fmt"
	"time"

	"auction-engine/internal/domain"
)

var transitions = map[domain.AuctionStatus][]domain.AuctionStatus{
	domain.AuctionDraft:  {domain.AuctionActive, domain.AuctionCancelled},
	domain.AuctionActive: {domain.AuctionEnded, domain.AuctionCancelled},
	domain.AuctionEnded:  {domain.AuctionSettled, domain.AuctionUnsold},
}

func CanTransition(from, to domain.AuctionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the auction to status `to` in memory, enforcing the
// lifecycle graph and the end-time guard on Active→Ended.
func Transition(auction *domain.Auction, to domain.AuctionStatus, now time.Time) error {
	if !CanTransition(auction.Status, to) {
		return fmt.Errorf("%s -> %s: %w", auction.Status, to, domain.ErrTransitionNotAllowed)
	}
	if auction.Status == domain.AuctionActive && to == domain.AuctionEnded && now.Before(auction.EndTime) {
		return fmt.Errorf("auction %s ends at %s: %w", auction.ID, auction.EndTime.Format(time.RFC3339), domain.ErrNotExpired)
	}
	auction.Status = to
	auction.UpdatedAt = now
	return nil
}
