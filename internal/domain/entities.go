package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Auction struct {
	ID            string           `json:"id"`
	SellerID      string           `json:"seller_id"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	BidIncrement  *decimal.Decimal `json:"bid_increment,omitempty"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	Status        AuctionStatus    `json:"status"`
	WinningBidID  *string          `json:"winning_bid_id,omitempty"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate a snapshot freely.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.ReservePrice != nil {
		r := *a.ReservePrice
		c.ReservePrice = &r
	}
	if a.BidIncrement != nil {
		i := *a.BidIncrement
		c.BidIncrement = &i
	}
	if a.WinningBidID != nil {
		w := *a.WinningBidID
		c.WinningBidID = &w
	}
	return &c
}

type AuctionStatus int

const (
	AuctionDraft AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionSettled
	AuctionCancelled
	AuctionUnsold
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionDraft:
		return "draft"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionSettled:
		return "settled"
	case AuctionCancelled:
		return "cancelled"
	case AuctionUnsold:
		return "unsold"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionSettled || s == AuctionCancelled || s == AuctionUnsold
}

func (s AuctionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AuctionStatus) UnmarshalText(b []byte) error {
	st, ok := ParseAuctionStatus(string(b))
	if !ok {
		return ErrInvalidAuction
	}
	*s = st
	return nil
}

func ParseAuctionStatus(v string) (AuctionStatus, bool) {
	for st := AuctionDraft; st <= AuctionUnsold; st++ {
		if st.String() == v {
			return st, true
		}
	}
	return AuctionDraft, false
}

type Bid struct {
	ID          string          `json:"id"`
	AuctionID   string          `json:"auction_id"`
	BidderID    string          `json:"bidder_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      BidStatus       `json:"status"`
	Sequence    int64           `json:"sequence"`
	SubmittedAt time.Time       `json:"submitted_at"`
	AcceptedAt  time.Time       `json:"accepted_at"`
}

type BidStatus string

const (
	BidLeading   BidStatus = "leading"
	BidOutbid    BidStatus = "outbid"
	BidWinning   BidStatus = "winning"
	BidRetracted BidStatus = "retracted"
)

// AuctionSnapshot is the unit of contention: one auction and all of its
// accepted bids, as read at Auction.Version.
type AuctionSnapshot struct {
	Auction *Auction `json:"auction"`
	Bids    []*Bid   `json:"bids"`
}

// Clone deep-copies the snapshot.
func (s *AuctionSnapshot) Clone() *AuctionSnapshot {
	c := &AuctionSnapshot{Auction: s.Auction.Clone(), Bids: make([]*Bid, len(s.Bids))}
	for i, b := range s.Bids {
		bc := *b
		c.Bids[i] = &bc
	}
	return c
}

type OutcomeReason string

const (
	OutcomeWon           OutcomeReason = "won"
	OutcomeReserveNotMet OutcomeReason = "reserve_not_met"
	OutcomeNoBids        OutcomeReason = "no_bids"
)

// Outcome is the transient result of settling an Ended auction.
type Outcome struct {
	AuctionID    string          `json:"auction_id"`
	WinningBidID *string         `json:"winning_bid_id,omitempty"`
	BuyerID      string          `json:"buyer_id,omitempty"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	Reason       OutcomeReason   `json:"reason"`
}

type NotificationType string

const (
	NotifyOutbid          NotificationType = "outbid"
	NotifyBidAccepted     NotificationType = "bid_accepted"
	NotifyAuctionWon      NotificationType = "auction_won"
	NotifyAuctionUnsold   NotificationType = "auction_unsold"
	NotifyAuctionExtended NotificationType = "auction_extended"
)

type NotificationIntent struct {
	Type      NotificationType       `json:"type"`
	AuctionID string                 `json:"auction_id"`
	UserID    string                 `json:"user_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type SettlementIntent struct {
	AuctionID    string          `json:"auction_id"`
	WinningBidID string          `json:"winning_bid_id"`
	BuyerID      string          `json:"buyer_id"`
	SellerID     string          `json:"seller_id"`
	Amount       decimal.Decimal `json:"amount"`
	SettledAt    time.Time       `json:"settled_at"`
}
