package core

import (
	"math"
	"time"

	"auction-engine/internal/domain"

	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 2 // cents

var minimumStep = decimal.New(1, -monetaryPrecision)

// Policy holds the configurable parts of bid acceptance.
type Policy struct {
	// AllowSelfOutbid lets the current leader raise their own bid.
	AllowSelfOutbid bool
	// Tiers is the default increment table for auctions without BidIncrement.
	Tiers []domain.IncrementTier
}

// ProposedBid is a bid as submitted by a client, before acceptance.
type ProposedBid struct {
	BidderID    string
	Amount      float64
	SubmittedAt time.Time
}

// Verdict is the result of validating one proposed bid. A zero Reason means
// the bid is accepted at Amount.
type Verdict struct {
	Reason  domain.RejectReason
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (v Verdict) Accepted() bool {
	return v.Reason == ""
}

// Err converts a rejection into a *domain.BidRejectedError; nil if accepted.
func (v Verdict) Err(auctionID string) error {
	if v.Accepted() {
		return nil
	}
	return &domain.BidRejectedError{AuctionID: auctionID, Reason: v.Reason, Minimum: v.Minimum}
}

// Validator decides whether a proposed bid may enter the ledger. It has no
// side effects; the same snapshot and bid always yield the same Verdict.
type Validator struct {
	policy Policy
}

func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

func (v *Validator) Policy() Policy {
	return v.policy
}

func (v *Validator) Validate(auction *domain.Auction, leader *domain.Bid, bid ProposedBid) Verdict {
	minimum := v.MinimumBid(auction, leader)
	reject := func(r domain.RejectReason) Verdict {
		return Verdict{Reason: r, Minimum: minimum}
	}

	if math.IsNaN(bid.Amount) || math.IsInf(bid.Amount, 0) || bid.Amount <= 0 {
		return reject(domain.RejectInvalidAmount)
	}
	// Amounts are taken as offered; fractions of a cent are never rounded.
	amount := decimal.NewFromFloat(bid.Amount)
	if !amount.Equal(amount.Round(monetaryPrecision)) {
		return reject(domain.RejectInvalidAmount)
	}

	if auction.Status != domain.AuctionActive {
		return reject(domain.RejectNotActive)
	}
	if bid.SubmittedAt.Before(auction.StartTime) {
		return reject(domain.RejectNotStarted)
	}
	if !bid.SubmittedAt.Before(auction.EndTime) {
		return reject(domain.RejectLateBid)
	}
	if bid.BidderID == auction.SellerID {
		return reject(domain.RejectSellerBid)
	}
	if leader != nil && leader.BidderID == bid.BidderID && !v.policy.AllowSelfOutbid {
		return reject(domain.RejectSelfOutbid)
	}
	if amount.LessThan(minimum) {
		return reject(domain.RejectBelowMinimum)
	}

	return Verdict{Amount: amount, Minimum: minimum}
}

// MinimumBid is the smallest acceptable amount: the starting price while the
// ledger is empty, otherwise current price plus increment. A zero increment
// still requires one cent so that a new bid always takes the lead.
func (v *Validator) MinimumBid(auction *domain.Auction, leader *domain.Bid) decimal.Decimal {
	if leader == nil {
		return auction.StartingPrice.Round(monetaryPrecision)
	}
	step := v.Increment(auction, leader.Amount)
	if !step.IsPositive() {
		step = minimumStep
	}
	return leader.Amount.Add(step).Round(monetaryPrecision)
}

// Increment returns the auction's own step if set, else the tier covering current.
func (v *Validator) Increment(auction *domain.Auction, current decimal.Decimal) decimal.Decimal {
	if auction.BidIncrement != nil {
		return *auction.BidIncrement
	}
	return TierIncrement(v.policy.Tiers, current)
}

func TierIncrement(tiers []domain.IncrementTier, current decimal.Decimal) decimal.Decimal {
	for _, t := range tiers {
		if current.LessThan(t.From) {
			continue
		}
		if t.To == nil || current.LessThan(*t.To) {
			return t.Step
		}
	}
	return decimal.Zero
}
