package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/internal/infrastructure/memory"
	"marketplace-bidding/pkg/logger"

	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func nd(v string) decimal.NullDecimal { return decimal.NewNullDecimal(d(v)) }

func checkAmount(t testing.TB, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Errorf("amount: got %s, want %s", got, want)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingQueue struct {
	mu     sync.Mutex
	events []*domain.NotificationEvent
}

func (q *recordingQueue) Enqueue(events ...*domain.NotificationEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, events...)
	return len(events)
}

func (q *recordingQueue) Events() []*domain.NotificationEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*domain.NotificationEvent(nil), q.events...)
}

func (q *recordingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
}

// activeAuction ends one hour after t0, starts at 1000 with increment 100.
func activeAuction(mutate ...func(*domain.Auction)) *domain.Auction {
	a := &domain.Auction{
		ID:              "auction_1",
		SellerID:        "seller",
		StartingPrice:   d("1000"),
		CurrentPrice:    d("1000"),
		MinBidIncrement: d("100"),
		SnipeThreshold:  5 * time.Minute,
		SnipeExtension:  5 * time.Minute,
		StartTime:       t0.Add(-time.Hour),
		EndTime:         t0.Add(time.Hour),
		OriginalEndTime: t0.Add(time.Hour),
		Status:          domain.AuctionActive,
		Approved:        true,
		ReserveMet:      true,
	}
	for _, m := range mutate {
		m(a)
	}
	return a
}

type engineFixture struct {
	store  *memory.Store
	queue  *recordingQueue
	clock  *fakeClock
	engine *BidEngine
}

func newEngineFixture(t testing.TB, auction *domain.Auction) *engineFixture {
	t.Helper()
	store := memory.NewStore()
	assert.NoError(t, store.CreateAuction(context.Background(), auction))
	return newEngineFixtureWithRepo(store, store)
}

func newEngineFixtureWithRepo(store *memory.Store, repo domain.AuctionRepository) *engineFixture {
	queue := &recordingQueue{}
	clock := newFakeClock(t0)
	return &engineFixture{
		store:  store,
		queue:  queue,
		clock:  clock,
		engine: NewBidEngine(repo, queue, logger.NewNop(), WithClock(clock.Now)),
	}
}

func (f *engineFixture) bid(t testing.TB, bidder, amount string) *BidResult {
	t.Helper()
	res, err := f.engine.PlaceBid(context.Background(), "auction_1", bidder, d(amount), decimal.NullDecimal{})
	assert.NoError(t, err)
	return res
}

func (f *engineFixture) proxyBid(t testing.TB, bidder, amount, max string) *BidResult {
	t.Helper()
	res, err := f.engine.PlaceBid(context.Background(), "auction_1", bidder, d(amount), nd(max))
	assert.NoError(t, err)
	return res
}

func (f *engineFixture) auction(t testing.TB) *domain.Auction {
	t.Helper()
	a, err := f.store.GetAuction(context.Background(), "auction_1")
	assert.NoError(t, err)
	return a
}

func (f *engineFixture) bids(t testing.TB) []*domain.Bid {
	t.Helper()
	bids, err := f.store.GetBids(context.Background(), "auction_1")
	assert.NoError(t, err)
	return bids
}

func winners(bids []*domain.Bid) []*domain.Bid {
	var out []*domain.Bid
	for _, b := range bids {
		if b.IsWinning {
			out = append(out, b)
		}
	}
	return out
}

// barrierStore holds every CommitBid until n callers arrived, so they all
// commit against the same read.
type barrierStore struct {
	*memory.Store
	arrived sync.WaitGroup
}

func newBarrierStore(store *memory.Store, n int) *barrierStore {
	b := &barrierStore{Store: store}
	b.arrived.Add(n)
	return b
}

func (b *barrierStore) CommitBid(ctx context.Context, c *domain.BidCommit) error {
	b.arrived.Done()
	b.arrived.Wait()
	return b.Store.CommitBid(ctx, c)
}
