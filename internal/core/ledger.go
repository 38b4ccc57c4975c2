package core

import (
	"fmt"
	"sort"
	"time"

	"auction-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// Ledger is the append-only sequence of accepted bids of one auction. The
// leader and current price are always derived from the sequence.
type Ledger struct {
	auctionID     string
	startingPrice decimal.Decimal
	bids          []*domain.Bid
}

// NewLedger orders bids by sequence and rejects inconsistent status sets.
func NewLedger(auctionID string, startingPrice decimal.Decimal, bids []*domain.Bid) (*Ledger, error) {
	ordered := append([]*domain.Bid(nil), bids...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	l := &Ledger{auctionID: auctionID, startingPrice: startingPrice, bids: ordered}

	var leading, winning int
	for _, b := range ordered {
		switch b.Status {
		case domain.BidLeading:
			leading++
		case domain.BidWinning:
			winning++
		}
	}
	if leading > 1 {
		return nil, &domain.InvariantViolationError{AuctionID: auctionID, Detail: fmt.Sprintf("%d leading bids", leading)}
	}
	if winning > 1 {
		return nil, &domain.InvariantViolationError{AuctionID: auctionID, Detail: fmt.Sprintf("%d winning bids", winning)}
	}
	if leading+winning > 1 {
		return nil, &domain.InvariantViolationError{AuctionID: auctionID, Detail: "leading and winning bids coexist"}
	}
	if leading == 1 {
		if lead := l.Leading(); lead.Status != domain.BidLeading {
			return nil, &domain.InvariantViolationError{AuctionID: auctionID, Detail: "leading status is not on the highest bid"}
		}
	}
	return l, nil
}

// Leading returns the highest bid, earliest acceptance first on ties.
func (l *Ledger) Leading() *domain.Bid {
	var lead *domain.Bid
	for _, b := range l.bids {
		if b.Status == domain.BidRetracted {
			continue
		}
		if lead == nil || b.Amount.GreaterThan(lead.Amount) ||
			(b.Amount.Equal(lead.Amount) && b.AcceptedAt.Before(lead.AcceptedAt)) {
			lead = b
		}
	}
	return lead
}

func (l *Ledger) CurrentPrice() decimal.Decimal {
	if lead := l.Leading(); lead != nil {
		return lead.Amount
	}
	return l.startingPrice
}

// Append adds bid with the next sequence number and re-derives statuses.
// It returns the bid that lost the lead, if any.
func (l *Ledger) Append(bid *domain.Bid) *domain.Bid {
	prev := l.Leading()

	bid.Sequence = int64(len(l.bids)) + 1
	l.bids = append(l.bids, bid)

	lead := l.Leading()
	if lead != bid {
		bid.Status = domain.BidOutbid
		return nil
	}
	bid.Status = domain.BidLeading
	if prev != nil {
		prev.Status = domain.BidOutbid
	}
	return prev
}

func (l *Ledger) Bids() []*domain.Bid {
	return l.bids
}

func (l *Ledger) Len() int {
	return len(l.bids)
}

// NextAcceptedAt returns now, nudged forward so acceptance timestamps are
// strictly increasing within the auction.
func (l *Ledger) NextAcceptedAt(now time.Time) time.Time {
	now = now.Truncate(time.Microsecond)
	if n := len(l.bids); n > 0 {
		last := l.bids[n-1].AcceptedAt
		if !now.After(last) {
			return last.Add(time.Microsecond)
		}
	}
	return now
}
