// Package memory is a mutex-guarded implementation of the store contracts.
// Every commit is applied under one lock, which gives the same all-or-nothing
// and compare-and-swap behavior as the MySQL repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace-bidding/internal/domain"
)

type outboxRow struct {
	event     *domain.NotificationEvent
	delivered bool
	attempts  int
	lastError string
}

type Store struct {
	mu          sync.RWMutex
	auctions    map[string]*domain.Auction
	bids        map[string][]*domain.Bid
	settlements map[string]*domain.SettlementRecord
	outbox      []*outboxRow
	jobs        map[string]*domain.ScheduledJob
}

func NewStore() *Store {
	return &Store{
		auctions:    make(map[string]*domain.Auction),
		bids:        make(map[string][]*domain.Bid),
		settlements: make(map[string]*domain.SettlementRecord),
		jobs:        make(map[string]*domain.ScheduledJob),
	}
}

func (s *Store) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[auction.ID] = auction.Clone()
	return nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) GetBids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Bid, 0, len(s.bids[auctionID]))
	for _, b := range s.bids[auctionID] {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (s *Store) UpdateAuctionStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Status != from {
		return domain.ErrConflict
	}
	a.Status = to
	a.Version++
	a.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetApproved(ctx context.Context, auctionID string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return domain.ErrNotFound
	}
	a.Approved = approved
	a.Version++
	return nil
}

// casLocked must be called with mu held.
func (s *Store) casLocked(auctionID string, expectedVersion int64, status domain.AuctionStatus) (*domain.Auction, error) {
	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if a.Version != expectedVersion || a.Status != status {
		return nil, domain.ErrConflict
	}
	return a, nil
}

func (s *Store) CommitBid(ctx context.Context, c *domain.BidCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.casLocked(c.AuctionID, c.ExpectedVersion, domain.AuctionActive)
	if err != nil {
		return err
	}

	a.CurrentPrice = c.CurrentPrice
	a.EndTime = c.EndTime
	a.OriginalEndTime = c.OriginalEndTime
	a.ReserveMet = c.ReserveMet
	a.Version++
	a.UpdatedAt = c.UpdatedAt

	for _, b := range s.bids[c.AuctionID] {
		b.IsWinning = false
	}
	for _, b := range c.Bids {
		s.bids[c.AuctionID] = append(s.bids[c.AuctionID], b.Clone())
	}
	s.appendOutboxLocked(c.Events)
	return nil
}

func (s *Store) UpdateMaxBid(ctx context.Context, c *domain.MaxBidCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.casLocked(c.AuctionID, c.ExpectedVersion, domain.AuctionActive)
	if err != nil {
		return err
	}
	for _, b := range s.bids[c.AuctionID] {
		if b.ID == c.BidID && b.IsWinning {
			b.MaxBid = c.MaxBid
			a.Version++
			a.UpdatedAt = c.UpdatedAt
			return nil
		}
	}
	return domain.ErrConflict
}

func (s *Store) CommitSettlement(ctx context.Context, c *domain.SettlementCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.casLocked(c.AuctionID, c.ExpectedVersion, domain.AuctionActive)
	if err != nil {
		return err
	}
	if _, exists := s.settlements[c.AuctionID]; exists {
		return domain.ErrConflict
	}

	a.Status = domain.AuctionEnded
	a.ReserveMet = c.ReserveMet
	a.Version++
	a.UpdatedAt = c.UpdatedAt

	rec := *c.Settlement
	s.settlements[c.AuctionID] = &rec
	s.appendOutboxLocked(c.Events)
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, auctionID string) (*domain.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.settlements[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *Store) appendOutboxLocked(events []*domain.NotificationEvent) {
	for _, ev := range events {
		c := *ev
		s.outbox = append(s.outbox, &outboxRow{event: &c})
	}
}

func (s *Store) PendingEvents(ctx context.Context, limit, maxAttempts int) ([]*domain.NotificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.NotificationEvent
	for _, row := range s.outbox {
		if len(out) >= limit {
			break
		}
		if row.delivered || (maxAttempts > 0 && row.attempts >= maxAttempts) {
			continue
		}
		c := *row.event
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, eventID string) error {
	return s.updateOutbox(eventID, func(row *outboxRow) {
		row.delivered = true
		row.attempts++
	})
}

func (s *Store) MarkFailed(ctx context.Context, eventID string, reason string) error {
	return s.updateOutbox(eventID, func(row *outboxRow) {
		row.attempts++
		row.lastError = reason
	})
}

func (s *Store) updateOutbox(eventID string, fn func(*outboxRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.outbox {
		if row.event.ID == eventID {
			fn(row)
			return nil
		}
	}
	return domain.ErrNotFound
}

// OutboxEvents returns every committed event with its delivery flag, in commit order.
func (s *Store) OutboxEvents() ([]*domain.NotificationEvent, []bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]*domain.NotificationEvent, 0, len(s.outbox))
	delivered := make([]bool, 0, len(s.outbox))
	for _, row := range s.outbox {
		c := *row.event
		events = append(events, &c)
		delivered = append(delivered, row.delivered)
	}
	return events, delivered
}

func (s *Store) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *job
	s.jobs[job.ID] = &c
	return nil
}

func (s *Store) GetPendingJobs(ctx context.Context, before time.Time) ([]*domain.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ScheduledJob
	for _, job := range s.jobs {
		if job.Status == domain.JobPending && !job.RunAt.After(before) {
			c := *job
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status == domain.JobPending {
		job.Status = status
	}
	return nil
}

func (s *Store) CancelJobsForAuction(ctx context.Context, auctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.AuctionID == auctionID && job.Status == domain.JobPending {
			job.Status = domain.JobCancelled
		}
	}
	return nil
}

// Jobs lists every job for an auction ordered by run time.
func (s *Store) Jobs(auctionID string) []*domain.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ScheduledJob
	for _, job := range s.jobs {
		if job.AuctionID == auctionID {
			c := *job
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}
