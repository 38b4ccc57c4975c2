package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Storage errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionExists   = errors.New("auction already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// Engine errors
var (
	// ErrConflict is returned once the bounded compare-and-swap retries are
	// exhausted. Callers may resubmit.
	ErrConflict = errors.New("conflict: too many concurrent writers")
	// ErrStaleStatus means the auction is no longer in the status the caller
	// expected, typically because another process already moved it.
	ErrStaleStatus          = errors.New("auction status changed")
	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrNotExpired           = errors.New("auction has not reached its end time")
	ErrInvalidAuction       = errors.New("invalid auction")
)

type RejectReason string

const (
	RejectNotActive     RejectReason = "not_active"
	RejectNotStarted    RejectReason = "not_started"
	RejectLateBid       RejectReason = "late_bid"
	RejectSelfOutbid    RejectReason = "self_outbid"
	RejectSellerBid     RejectReason = "seller_bid"
	RejectBelowMinimum  RejectReason = "below_minimum"
	RejectInvalidAmount RejectReason = "invalid_amount"
)

// BidRejectedError is a terminal validation failure. It is never retried.
type BidRejectedError struct {
	AuctionID string
	Reason    RejectReason
	Minimum   decimal.Decimal
}

func (e *BidRejectedError) Error() string {
	if e.Reason == RejectBelowMinimum {
		return fmt.Sprintf("bid rejected for auction %s: %s (minimum %s)", e.AuctionID, e.Reason, e.Minimum.StringFixed(2))
	}
	return fmt.Sprintf("bid rejected for auction %s: %s", e.AuctionID, e.Reason)
}

// InvariantViolationError signals a broken concurrency guard, e.g. two
// Leading bids or a Settled auction without a winner.
type InvariantViolationError struct {
	AuctionID string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated for auction %s: %s", e.AuctionID, e.Detail)
}

func IsRejected(err error) bool {
	var rej *BidRejectedError
	return errors.As(err, &rej)
}
