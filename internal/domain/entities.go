package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Auction struct {
	ID              string
	SellerID        string
	StartingPrice   decimal.Decimal
	CurrentPrice    decimal.Decimal
	ReservePrice    decimal.NullDecimal
	BuyNowPrice     decimal.NullDecimal
	MinBidIncrement decimal.Decimal
	SnipeThreshold  time.Duration
	SnipeExtension  time.Duration
	StartTime       time.Time
	EndTime         time.Time
	// OriginalEndTime is the deadline before any snipe extension. Never moves.
	OriginalEndTime time.Time
	Status          AuctionStatus
	Approved        bool
	ReserveMet      bool
	// Version is bumped by every committed mutation and is the compare-and-swap token.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy that can be mutated without touching the receiver.
func (a *Auction) Clone() *Auction {
	c := *a
	return &c
}

type AuctionStatus int

const (
	AuctionPending AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionPending:
		return "pending"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether next is a legal successor of s.
// ENDED and CANCELLED are terminal.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionPending:
		return next == AuctionActive || next == AuctionCancelled
	case AuctionActive:
		return next == AuctionEnded || next == AuctionCancelled
	default:
		return false
	}
}

type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	// Amount is the standing price recorded for this bid.
	Amount decimal.Decimal
	// MaxBid is the bidder's private proxy ceiling; equal to Amount when none was given.
	MaxBid    decimal.Decimal
	IsWinning bool
	IsAutoBid bool
	CreatedAt time.Time
}

func (b *Bid) Clone() *Bid {
	c := *b
	return &c
}

type SettlementOutcome string

const (
	OutcomeSold                SettlementOutcome = "SOLD"
	OutcomeNoSaleReserveNotMet SettlementOutcome = "NO_SALE_RESERVE_NOT_MET"
	OutcomeNoSaleNoBids        SettlementOutcome = "NO_SALE_NO_BIDS"
)

type SettlementRecord struct {
	ID        string
	AuctionID string
	// WinnerID is empty unless Outcome is OutcomeSold.
	WinnerID   string
	FinalPrice decimal.Decimal
	Commission decimal.Decimal
	Outcome    SettlementOutcome
	CreatedAt  time.Time
}

type ScheduledJob struct {
	ID        string
	AuctionID string
	JobType   JobType
	RunAt     time.Time
	Status    JobStatus
	CreatedAt time.Time
}

type JobType string

const (
	JobStartAuction JobType = "start_auction"
	JobEndAuction   JobType = "end_auction"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobExecuted  JobStatus = "executed"
	JobCancelled JobStatus = "cancelled"
)
