package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository interfaces

// AuctionRepository is the relational store behind the bidding core. Commit
// methods apply all their writes atomically and return ErrConflict when the
// auction row no longer carries the expected version.
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	// GetBids returns the auction's bids, oldest first.
	GetBids(ctx context.Context, auctionID string) ([]*Bid, error)
	UpdateAuctionStatus(ctx context.Context, auctionID string, from, to AuctionStatus) error
	SetApproved(ctx context.Context, auctionID string, approved bool) error
	CommitBid(ctx context.Context, commit *BidCommit) error
	UpdateMaxBid(ctx context.Context, commit *MaxBidCommit) error
	CommitSettlement(ctx context.Context, commit *SettlementCommit) error
	GetSettlement(ctx context.Context, auctionID string) (*SettlementRecord, error)
}

// BidCommit is everything one accepted bid writes. Existing winning bids are
// demoted before Bids are inserted in order.
type BidCommit struct {
	AuctionID       string
	ExpectedVersion int64
	CurrentPrice    decimal.Decimal
	EndTime         time.Time
	OriginalEndTime time.Time
	ReserveMet      bool
	Bids            []*Bid
	Events          []*NotificationEvent
	UpdatedAt       time.Time
}

type MaxBidCommit struct {
	AuctionID       string
	ExpectedVersion int64
	BidID           string
	MaxBid          decimal.Decimal
	UpdatedAt       time.Time
}

// SettlementCommit moves an ACTIVE auction to ENDED together with its settlement.
type SettlementCommit struct {
	AuctionID       string
	ExpectedVersion int64
	ReserveMet      bool
	Settlement      *SettlementRecord
	Events          []*NotificationEvent
	UpdatedAt       time.Time
}

// OutboxRepository exposes notification rows committed alongside bids and settlements.
type OutboxRepository interface {
	PendingEvents(ctx context.Context, limit, maxAttempts int) ([]*NotificationEvent, error)
	MarkDelivered(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, reason string) error
}

type SchedulerRepository interface {
	CreateJob(ctx context.Context, job *ScheduledJob) error
	GetPendingJobs(ctx context.Context, before time.Time) ([]*ScheduledJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	CancelJobsForAuction(ctx context.Context, auctionID string) error
}

// Cache interfaces
type AuctionStateCache interface {
	SetAuctionStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	GetAuctionStatus(ctx context.Context, auctionID string) (AuctionStatus, error)
}

// Notification interfaces

// NotificationDispatcher delivers one event. Delivery is at-least-once, so
// implementations and their consumers must tolerate duplicates.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, event *NotificationEvent) error
}

// EventQueue accepts events after their transaction committed. Enqueue never blocks.
type EventQueue interface {
	Enqueue(events ...*NotificationEvent) int
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *NotificationEvent) error

type UserNotifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}

type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// Scheduler interface
type AuctionScheduler interface {
	ScheduleAuctionStart(ctx context.Context, auctionID string, startTime time.Time) error
	ScheduleAuctionEnd(ctx context.Context, auctionID string, endTime time.Time) error
	RescheduleAuctionEnd(ctx context.Context, auctionID string, newEndTime time.Time) error
	CancelSchedule(ctx context.Context, auctionID string) error
	Start(ctx context.Context) error
	Stop() error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	// UnregisterConnection drops conn only if it is still the registered socket
	// for its user and auction.
	UnregisterConnection(conn WebSocketConnection) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
