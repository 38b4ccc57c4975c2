package core

import (
	"time"

	"auction-engine/internal/domain"
)

// DecideOutcome computes the settlement of an Ended auction from its ledger.
func DecideOutcome(auction *domain.Auction, ledger *Ledger) domain.Outcome {
	out := domain.Outcome{AuctionID: auction.ID, FinalPrice: ledger.CurrentPrice()}

	lead := ledger.Leading()
	switch {
	case lead == nil:
		out.Reason = domain.OutcomeNoBids
	case auction.ReservePrice != nil && lead.Amount.LessThan(*auction.ReservePrice):
		out.Reason = domain.OutcomeReserveNotMet
	default:
		id := lead.ID
		out.Reason = domain.OutcomeWon
		out.WinningBidID = &id
		out.BuyerID = lead.BidderID
	}
	return out
}

// ApplyOutcome moves the auction to its terminal status and rewrites bid
// statuses to match. The returned bids are the ones whose status changed.
func ApplyOutcome(auction *domain.Auction, ledger *Ledger, outcome domain.Outcome, now time.Time) ([]*domain.Bid, error) {
	to := domain.AuctionUnsold
	if outcome.Reason == domain.OutcomeWon {
		to = domain.AuctionSettled
	}
	if err := Transition(auction, to, now); err != nil {
		return nil, err
	}

	var changed []*domain.Bid
	for _, b := range ledger.Bids() {
		want := domain.BidOutbid
		if b.Status == domain.BidRetracted {
			continue
		}
		if outcome.WinningBidID != nil && b.ID == *outcome.WinningBidID {
			want = domain.BidWinning
		}
		if b.Status != want {
			b.Status = want
			changed = append(changed, b)
		}
	}

	if outcome.WinningBidID != nil {
		id := *outcome.WinningBidID
		auction.WinningBidID = &id
	} else {
		auction.WinningBidID = nil
	}
	return changed, nil
}

// CheckInvariants verifies the cross-entity facts that a single
// compare-and-swap is supposed to keep in sync.
func CheckInvariants(snap *domain.AuctionSnapshot) error {
	a := snap.Auction
	violation := func(detail string) error {
		return &domain.InvariantViolationError{AuctionID: a.ID, Detail: detail}
	}

	ledger, err := NewLedger(a.ID, a.StartingPrice, snap.Bids)
	if err != nil {
		return err
	}
	if a.CurrentPrice.LessThan(a.StartingPrice) {
		return violation("current price below starting price")
	}
	if !a.CurrentPrice.Equal(ledger.CurrentPrice()) {
		return violation("current price differs from ledger")
	}

	var winner *domain.Bid
	for _, b := range snap.Bids {
		if b.Status == domain.BidWinning {
			winner = b
		}
	}

	if a.Status == domain.AuctionSettled {
		if a.WinningBidID == nil {
			return violation("settled without winning bid")
		}
		if winner == nil || winner.ID != *a.WinningBidID {
			return violation("winning bid reference does not match winning bid")
		}
		return nil
	}
	if a.WinningBidID != nil {
		return violation("winning bid set on " + a.Status.String() + " auction")
	}
	if winner != nil {
		return violation("winning bid on " + a.Status.String() + " auction")
	}
	return nil
}
