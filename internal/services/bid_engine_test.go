package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/internal/infrastructure/memory"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestPlaceBid_FirstBidWinsOutright(t *testing.T) {
	f := newEngineFixture(t, activeAuction())

	res := f.bid(t, "alice", "1100")

	check.Equal(t, "alice", res.Bid.BidderID)
	check.True(t, res.Bid.IsWinning)
	check.False(t, res.AutoBidTriggered)
	check.False(t, res.WasExtended)
	check.Equal(t, 0, res.NotificationsQueued)
	checkAmount(t, "1100", res.Auction.CurrentPrice)
	checkAmount(t, "1100", res.Bid.MaxBid)

	stored := f.auction(t)
	checkAmount(t, "1100", stored.CurrentPrice)
	check.Equal(t, int64(1), stored.Version)
	check.Equal(t, res.Auction.Version, stored.Version)
}

func TestPlaceBid_MinimumBidEnforcement(t *testing.T) {
	f := newEngineFixture(t, activeAuction())
	f.bid(t, "alice", "1500")

	_, err := f.engine.PlaceBid(context.Background(), "auction_1", "bob", d("1599"), decimal.NullDecimal{})
	check.True(t, errors.Is(err, domain.ErrValidationFailed))

	var derr *domain.Error
	assert.True(t, errors.As(err, &derr))
	check.True(t, derr.MinimumBid.Valid)
	checkAmount(t, "1600", derr.MinimumBid.Decimal)

	res := f.bid(t, "bob", "1600")
	checkAmount(t, "1600", res.Auction.CurrentPrice)
}

func TestPlaceBid_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		auction *domain.Auction
		bidder  string
		amount  string
		maxBid  decimal.NullDecimal
		kind    domain.ErrorKind
	}{
		{
			name:    "pending auction",
			auction: activeAuction(func(a *domain.Auction) { a.Status = domain.AuctionPending }),
			bidder:  "alice", amount: "1100", kind: domain.ErrInvalidState,
		},
		{
			name:    "ended auction status",
			auction: activeAuction(func(a *domain.Auction) { a.Status = domain.AuctionEnded }),
			bidder:  "alice", amount: "1100", kind: domain.ErrInvalidState,
		},
		{
			name:    "not approved",
			auction: activeAuction(func(a *domain.Auction) { a.Approved = false }),
			bidder:  "alice", amount: "1100", kind: domain.ErrInvalidState,
		},
		{
			name:    "seller bids on own auction",
			auction: activeAuction(),
			bidder:  "seller", amount: "1100", kind: domain.ErrForbidden,
		},
		{
			name:    "deadline passed",
			auction: activeAuction(func(a *domain.Auction) { a.EndTime = t0.Add(-time.Second) }),
			bidder:  "alice", amount: "1100", kind: domain.ErrInvalidState,
		},
		{
			name:    "below minimum",
			auction: activeAuction(),
			bidder:  "alice", amount: "1099", kind: domain.ErrValidationFailed,
		},
		{
			name:    "max bid below amount",
			auction: activeAuction(),
			bidder:  "alice", amount: "1200", maxBid: nd("1150"), kind: domain.ErrValidationFailed,
		},
		{
			name:    "forbidden is checked before the deadline",
			auction: activeAuction(func(a *domain.Auction) { a.EndTime = t0.Add(-time.Second) }),
			bidder:  "seller", amount: "1100", kind: domain.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, tt.auction)

			_, err := f.engine.PlaceBid(context.Background(), "auction_1", tt.bidder, d(tt.amount), tt.maxBid)
			check.Equal(t, tt.kind, domain.KindOf(err))
			check.Equal(t, 0, len(f.bids(t)))
		})
	}
}

func TestPlaceBid_UnknownAuction(t *testing.T) {
	f := newEngineFixture(t, activeAuction())

	_, err := f.engine.PlaceBid(context.Background(), "missing", "alice", d("1100"), decimal.NullDecimal{})
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPlaceBid_BuyNowBoundary(t *testing.T) {
	f := newEngineFixture(t, activeAuction(func(a *domain.Auction) { a.BuyNowPrice = nd("3000") }))

	_, err := f.engine.PlaceBid(context.Background(), "auction_1", "alice", d("3000"), decimal.NullDecimal{})
	check.True(t, errors.Is(err, domain.ErrValidationFailed))
	check.True(t, strings.Contains(err.Error(), "buy-now"))
	check.Equal(t, 0, len(f.bids(t)))

	res := f.bid(t, "alice", "2999")
	check.True(t, res.Bid.IsWinning)
}

func TestPlaceBid_SnipeExtension(t *testing.T) {
	end := t0.Add(time.Hour)

	t.Run("inside the window", func(t *testing.T) {
		f := newEngineFixture(t, activeAuction())
		f.clock.Set(end.Add(-2 * time.Minute))

		res := f.bid(t, "alice", "1100")

		check.True(t, res.WasExtended)
		check.Equal(t, end.Add(5*time.Minute), res.Auction.EndTime)
		check.Equal(t, end, res.Auction.OriginalEndTime)

		stored := f.auction(t)
		check.Equal(t, end.Add(5*time.Minute), stored.EndTime)
		check.Equal(t, end, stored.OriginalEndTime)

		events := f.queue.Events()
		assert.Equal(t, 1, len(events))
		check.Equal(t, domain.EventAuctionExtended, events[0].Kind)
		check.True(t, events[0].IsBroadcast())
	})

	t.Run("outside the window", func(t *testing.T) {
		f := newEngineFixture(t, activeAuction())
		f.clock.Set(end.Add(-10 * time.Minute))

		res := f.bid(t, "alice", "1100")

		check.False(t, res.WasExtended)
		check.Equal(t, end, res.Auction.EndTime)
		check.Equal(t, 0, len(f.queue.Events()))
	})

	t.Run("original end time survives repeated extensions", func(t *testing.T) {
		f := newEngineFixture(t, activeAuction())
		f.clock.Set(end.Add(-1 * time.Minute))
		f.bid(t, "alice", "1100")
		f.clock.Set(end.Add(4 * time.Minute))
		res := f.bid(t, "bob", "1200")

		check.Equal(t, end.Add(10*time.Minute), res.Auction.EndTime)
		check.Equal(t, end, res.Auction.OriginalEndTime)
	})
}

func TestPlaceBid_DeadlineRecheckedBeforeCommit(t *testing.T) {
	f := newEngineFixture(t, activeAuction())
	end := t0.Add(time.Hour)

	var mu sync.Mutex
	calls := 0
	f.engine.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return end.Add(-time.Second)
		}
		return end.Add(time.Second)
	}

	_, err := f.engine.PlaceBid(context.Background(), "auction_1", "alice", d("1100"), decimal.NullDecimal{})
	check.True(t, errors.Is(err, domain.ErrInvalidState))
	check.Equal(t, 0, len(f.bids(t)))
}

func TestPlaceBid_ProxyDuelStrictWinner(t *testing.T) {
	f := newEngineFixture(t, activeAuction())
	f.proxyBid(t, "carol", "1100", "1800")
	f.queue.Reset()

	res := f.proxyBid(t, "dave", "1200", "2500")

	check.True(t, res.AutoBidTriggered)
	check.Equal(t, "dave", res.Bid.BidderID)
	check.True(t, res.Bid.IsWinning)
	checkAmount(t, "1900", res.Bid.Amount)
	checkAmount(t, "1900", res.Auction.CurrentPrice)

	bids := f.bids(t)
	assert.Equal(t, 3, len(bids))
	synthetic := bids[1]
	check.Equal(t, "carol", synthetic.BidderID)
	check.True(t, synthetic.IsAutoBid)
	check.False(t, synthetic.IsWinning)
	checkAmount(t, "1800", synthetic.Amount)

	events := f.queue.Events()
	assert.Equal(t, 1, len(events))
	check.Equal(t, domain.EventOutbid, events[0].Kind)
	check.Equal(t, "carol", events[0].RecipientID)
	check.Equal(t, 1, res.NotificationsQueued)
}

func TestPlaceBid_ProxyDuelWinnerPaysIncrementOverBeatenCeiling(t *testing.T) {
	f := newEngineFixture(t, activeAuction())
	f.proxyBid(t, "carol", "1100", "1500")

	res := f.proxyBid(t, "dave", "2400", "2500")

	check.True(t, res.AutoBidTriggered)
	check.True(t, res.Bid.IsWinning)
	checkAmount(t, "1600", res.Bid.Amount)
	checkAmount(t, "2500", res.Bid.MaxBid)
	checkAmount(t, "1600", res.Auction.CurrentPrice)

	stored := f.auction(t)
	checkAmount(t, "1600", stored.CurrentPrice)
	w := winners(f.bids(t))
	assert.Equal(t, 1, len(w))
	check.Equal(t, "dave", w[0].BidderID)
	checkAmount(t, "1600", w[0].Amount)
}

func TestPlaceBid_ProxyDuelTieFavorsIncumbent(t *testing.T) {
	f := newEngineFixture(t, activeAuction())
	f.proxyBid(t, "carol", "1100", "2000")
	f.queue.Reset()

	res := f.proxyBid(t, "dave", "1200", "2000")

	check.True(t, res.AutoBidTriggered)
	check.False(t, res.Bid.IsWinning)
	check.Equal(t, "dave", res.Bid.BidderID)
	checkAmount(t, "2000", res.Auction.CurrentPrice)

	w := winners(f.bids(t))
	assert.Equal(t, 1, len(w))
	check.Equal(t, "carol", w[0].BidderID)
	check.True(t, w[0].IsAutoBid)
	checkAmount(t, "2000", w[0].Amount)

	// The incumbent kept the lead, nobody was outbid.
	check.Equal(t, 0, len(f.queue.Events()))
}

func TestPlaceBid_ThreeProxyBidders(t *testing.T) {
	f := newEngineFixture(t, activeAuction())

	f.proxyBid(t, "alice", "1100", "3000")

	res := f.proxyBid(t, "bob", "1200", "2000")
	check.False(t, res.Bid.IsWinning)
	checkAmount(t, "2100", res.Auction.CurrentPrice)

	// bob's 2000 ceiling is under the new minimum, so only alice competes.
	res = f.proxyBid(t, "carol", "2200", "2500")
	check.False(t, res.Bid.IsWinning)
	checkAmount(t, "2600", res.Auction.CurrentPrice)

	f.queue.Reset()
	res = f.proxyBid(t, "dave", "2700", "4000")
	check.True(t, res.Bid.IsWinning)
	checkAmount(t, "3100", res.Auction.CurrentPrice)

	w := winners(f.bids(t))
	assert.Equal(t, 1, len(w))
	check.Equal(t, "dave", w[0].BidderID)

	events := f.queue.Events()
	assert.Equal(t, 1, len(events))
	check.Equal(t, "alice", events[0].RecipientID)
}

func TestPlaceBid_SingleWinnerAfterSequence(t *testing.T) {
	f := newEngineFixture(t, activeAuction())

	f.bid(t, "alice", "1100")
	f.bid(t, "bob", "1200")
	f.proxyBid(t, "alice", "1300", "1700")
	f.bid(t, "bob", "1400")
	f.bid(t, "carol", "1900")

	bids := f.bids(t)
	w := winners(bids)
	assert.Equal(t, 1, len(w))
	check.Equal(t, "carol", w[0].BidderID)
	for _, b := range bids {
		check.True(t, w[0].Amount.GreaterThanOrEqual(b.Amount))
	}
	// carol beats alice's 1700 ceiling by one increment.
	checkAmount(t, "1800", w[0].Amount)
	checkAmount(t, "1800", f.auction(t).CurrentPrice)
}

func TestPlaceBid_ReserveMetTracksPrice(t *testing.T) {
	f := newEngineFixture(t, activeAuction(func(a *domain.Auction) {
		a.ReservePrice = nd("1500")
		a.ReserveMet = false
	}))

	res := f.bid(t, "alice", "1200")
	check.False(t, res.Auction.ReserveMet)

	res = f.bid(t, "bob", "1500")
	check.True(t, res.Auction.ReserveMet)
	check.True(t, f.auction(t).ReserveMet)
}

func TestPlaceBid_ConcurrentStaleReadConflict(t *testing.T) {
	store := memory.NewStore()
	assert.NoError(t, store.CreateAuction(context.Background(), activeAuction()))
	f := newEngineFixtureWithRepo(store, newBarrierStore(store, 2))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, amount := range []string{"1200", "1300"} {
		wg.Add(1)
		go func(i int, amount string) {
			defer wg.Done()
			_, errs[i] = f.engine.PlaceBid(context.Background(), "auction_1", []string{"alice", "bob"}[i], d(amount), decimal.NullDecimal{})
		}(i, amount)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
			check.True(t, domain.IsRetryable(err))
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	check.Equal(t, 1, successes)
	check.Equal(t, 1, conflicts)
	check.Equal(t, 1, len(f.bids(t)))
	check.Equal(t, 1, len(winners(f.bids(t))))
}

func TestRaiseMaxBid(t *testing.T) {
	f := newEngineFixture(t, activeAuction())
	f.proxyBid(t, "alice", "1100", "1500")

	raised, err := f.engine.RaiseMaxBid(context.Background(), "auction_1", "alice", d("2000"))
	assert.NoError(t, err)
	checkAmount(t, "2000", raised.MaxBid)
	checkAmount(t, "1100", f.auction(t).CurrentPrice)

	_, err = f.engine.RaiseMaxBid(context.Background(), "auction_1", "bob", d("5000"))
	check.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = f.engine.RaiseMaxBid(context.Background(), "auction_1", "alice", d("1800"))
	check.True(t, errors.Is(err, domain.ErrValidationFailed))

	// The raised ceiling now defends the lead.
	res := f.proxyBid(t, "bob", "1700", "1900")
	check.False(t, res.Bid.IsWinning)
	checkAmount(t, "2000", res.Auction.CurrentPrice)
	check.Equal(t, "alice", winners(f.bids(t))[0].BidderID)
}

func TestRaiseMaxBid_StaleVersionConflicts(t *testing.T) {
	f := newEngineFixture(t, activeAuction())
	f.proxyBid(t, "alice", "1100", "1500")
	bids := f.bids(t)

	err := f.store.UpdateMaxBid(context.Background(), &domain.MaxBidCommit{
		AuctionID:       "auction_1",
		ExpectedVersion: 0,
		BidID:           bids[0].ID,
		MaxBid:          d("9000"),
	})
	check.True(t, errors.Is(err, domain.ErrConflict))
}
