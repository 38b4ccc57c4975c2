package core

import (
	"errors"
	"testing"
	"time"

	"auction-engine/internal/domain"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func bid(id, bidder, amount string, at time.Time) *domain.Bid {
	return &domain.Bid{ID: id, AuctionID: "auction_1", BidderID: bidder, Amount: dec(amount), AcceptedAt: at}
}

func TestLedger_EmptyUsesStartingPrice(t *testing.T) {
	l, err := NewLedger("auction_1", dec("100"), nil)
	assert.NoError(t, err)
	check.Nil(t, l.Leading())
	check.Equal(t, "100", l.CurrentPrice().String())
}

func TestLedger_AppendFlipsLeader(t *testing.T) {
	l, err := NewLedger("auction_1", dec("100"), nil)
	assert.NoError(t, err)

	a := bid("a", "alice", "105", t0)
	check.Nil(t, l.Append(a))
	check.Equal(t, domain.BidLeading, a.Status)
	check.Equal(t, int64(1), a.Sequence)

	c := bid("c", "carol", "110", t0.Add(time.Second))
	prev := l.Append(c)
	check.NotNil(t, prev)
	check.Equal(t, "a", prev.ID)
	check.Equal(t, domain.BidOutbid, a.Status)
	check.Equal(t, domain.BidLeading, c.Status)
	check.Equal(t, int64(2), c.Sequence)
	check.Equal(t, "110", l.CurrentPrice().String())
}

func TestLedger_TieGoesToEarliest(t *testing.T) {
	l, err := NewLedger("auction_1", dec("100"), nil)
	assert.NoError(t, err)

	first := bid("first", "alice", "120", t0)
	l.Append(first)
	second := bid("second", "bob", "120", t0.Add(time.Second))
	check.Nil(t, l.Append(second))

	check.Equal(t, "first", l.Leading().ID)
	check.Equal(t, domain.BidLeading, first.Status)
	check.Equal(t, domain.BidOutbid, second.Status)
}

func TestLedger_MonotonicPriceAndSingleLeader(t *testing.T) {
	l, err := NewLedger("auction_1", dec("100"), nil)
	assert.NoError(t, err)

	amounts := []string{"100", "105", "150", "151", "300"}
	last := l.CurrentPrice()
	for i, amt := range amounts {
		l.Append(bid(string(rune('a'+i)), "bidder", amt, t0.Add(time.Duration(i)*time.Second)))

		check.True(t, l.CurrentPrice().GreaterThanOrEqual(last))
		last = l.CurrentPrice()

		leading := 0
		for _, b := range l.Bids() {
			if b.Status == domain.BidLeading {
				leading++
			}
		}
		check.Equal(t, 1, leading)
	}
}

func TestNewLedger_DetectsTwoLeadingBids(t *testing.T) {
	bids := []*domain.Bid{
		{ID: "a", Amount: dec("105"), Status: domain.BidLeading, Sequence: 1},
		{ID: "b", Amount: dec("110"), Status: domain.BidLeading, Sequence: 2},
	}
	_, err := NewLedger("auction_1", dec("100"), bids)
	check.Error(t, err)

	var violation *domain.InvariantViolationError
	check.True(t, errors.As(err, &violation))
	check.Equal(t, "auction_1", violation.AuctionID)
}

func TestNewLedger_DetectsMisplacedLeader(t *testing.T) {
	bids := []*domain.Bid{
		{ID: "a", Amount: dec("105"), Status: domain.BidLeading, Sequence: 1},
		{ID: "b", Amount: dec("110"), Status: domain.BidOutbid, Sequence: 2},
	}
	_, err := NewLedger("auction_1", dec("100"), bids)
	check.Error(t, err)
}

func TestNewLedger_OrdersBySequence(t *testing.T) {
	bids := []*domain.Bid{
		{ID: "b", Amount: dec("110"), Status: domain.BidLeading, Sequence: 2},
		{ID: "a", Amount: dec("105"), Status: domain.BidOutbid, Sequence: 1},
	}
	l, err := NewLedger("auction_1", dec("100"), bids)
	assert.NoError(t, err)
	check.Equal(t, "a", l.Bids()[0].ID)
	check.Equal(t, "b", l.Leading().ID)
}

func TestLedger_NextAcceptedAtIsStrictlyIncreasing(t *testing.T) {
	l, err := NewLedger("auction_1", dec("100"), nil)
	assert.NoError(t, err)

	check.True(t, l.NextAcceptedAt(t0).Equal(t0))

	l.Append(bid("a", "alice", "105", t0))
	next := l.NextAcceptedAt(t0)
	check.True(t, next.After(t0))
	check.True(t, l.NextAcceptedAt(t0.Add(time.Second)).Equal(t0.Add(time.Second)))
}
