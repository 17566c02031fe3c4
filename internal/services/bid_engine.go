package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/pkg/logger"
	"marketplace-bidding/pkg/utils"

	"github.com/shopspring/decimal"
)

// BidResult is everything a caller can observe about an accepted bid.
type BidResult struct {
	// Bid is the submitting bidder's own row.
	Bid                 *domain.Bid
	Auction             *domain.Auction
	WasExtended         bool
	AutoBidTriggered    bool
	NotificationsQueued int
}

// BidEngine accepts bids against a single auction under optimistic concurrency.
// It never retries a lost compare-and-swap; that is left to the caller.
type BidEngine struct {
	repo  domain.AuctionRepository
	queue domain.EventQueue
	now   func() time.Time
	log   logger.Logger
}

type EngineOption func(*BidEngine)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *BidEngine) { e.now = now }
}

func NewBidEngine(repo domain.AuctionRepository, queue domain.EventQueue, log logger.Logger, opts ...EngineOption) *BidEngine {
	e := &BidEngine{
		repo:  repo,
		queue: queue,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlaceBid validates and commits one bid. maxBid is the optional proxy ceiling.
func (e *BidEngine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, maxBid decimal.NullDecimal) (*BidResult, error) {
	e.log.Info("Placing bid", "auction_id", auctionID, "bidder_id", bidderID, "amount", amount.String())

	auction, err := e.loadBiddableAuction(ctx, auctionID, bidderID)
	if err != nil {
		return nil, err
	}

	bids, err := e.repo.GetBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("load bids for auction %s: %w", auctionID, err)
	}

	if !amount.IsPositive() {
		return nil, domain.NewError(domain.ErrValidationFailed, "bid amount must be positive")
	}
	minimum := MinimumBid(auction, bids)
	if amount.LessThan(minimum) {
		return nil, domain.BelowMinimum(minimum)
	}
	if auction.BuyNowPrice.Valid && amount.GreaterThanOrEqual(auction.BuyNowPrice.Decimal) {
		return nil, domain.NewError(domain.ErrValidationFailed,
			"bid of %s reaches the buy-now price %s; use buy-now instead",
			amount.StringFixed(2), auction.BuyNowPrice.Decimal.StringFixed(2))
	}
	ceiling := amount
	if maxBid.Valid {
		if maxBid.Decimal.LessThan(amount) {
			return nil, domain.NewError(domain.ErrValidationFailed, "max bid %s is below bid amount %s",
				maxBid.Decimal.StringFixed(2), amount.StringFixed(2))
		}
		ceiling = maxBid.Decimal
	}

	now := e.now()
	newEndTime := auction.EndTime
	if IsInSnipeWindow(auction, now) {
		newEndTime = ExtendedEndTime(auction)
	}
	originalEndTime := auction.OriginalEndTime
	if originalEndTime.IsZero() {
		originalEndTime = auction.EndTime
	}

	previousWinner := winningBid(bids)

	var (
		records     []*domain.Bid
		own         *domain.Bid
		winnerID    string
		price       decimal.Decimal
		autoTrigger bool
	)
	if competitor := strongestCompetitor(bids, bidderID, minimum); competitor != nil {
		duel := ProxyDuel{
			AuctionID:          auctionID,
			NewBidderID:        bidderID,
			NewAmount:          amount,
			NewMaxBid:          ceiling,
			CompetitorBidderID: competitor.BidderID,
			CompetitorMaxBid:   competitor.MaxBid,
			Increment:          auction.MinBidIncrement,
			At:                 now,
		}
		outcome := ResolveProxyDuel(duel)
		records = []*domain.Bid{outcome.LoserRecord, outcome.WinnerRecord}
		if outcome.NewBidderWon(duel) {
			own = outcome.WinnerRecord
		} else {
			own = outcome.LoserRecord
		}
		winnerID = outcome.WinningBidderID
		price = outcome.ResultingPrice
		autoTrigger = true

		e.log.Info("Proxy duel resolved", "auction_id", auctionID,
			"winner_id", winnerID, "competitor_id", competitor.BidderID, "price", price.String())
	} else {
		own = &domain.Bid{
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			MaxBid:    ceiling,
			IsWinning: true,
			CreatedAt: now,
		}
		records = []*domain.Bid{own}
		winnerID = bidderID
		price = amount
	}
	for _, r := range records {
		r.ID = utils.GenerateID("bid")
	}

	wasExtended := !newEndTime.Equal(auction.EndTime)
	var events []*domain.NotificationEvent
	if previousWinner != nil && previousWinner.BidderID != winnerID {
		events = append(events, newEvent(domain.EventOutbid, auctionID, previousWinner.BidderID, now, map[string]interface{}{
			"current_price": price.StringFixed(2),
			"your_max_bid":  previousWinner.MaxBid.StringFixed(2),
		}))
	}
	if wasExtended {
		events = append(events, newEvent(domain.EventAuctionExtended, auctionID, "", now, map[string]interface{}{
			"previous_end_time": auction.EndTime,
			"new_end_time":      newEndTime,
		}))
	}

	// The deadline may have passed while we were computing.
	if e.now().After(auction.EndTime) {
		return nil, domain.NewError(domain.ErrInvalidState, "auction %s ended", auctionID)
	}

	commit := &domain.BidCommit{
		AuctionID:       auctionID,
		ExpectedVersion: auction.Version,
		CurrentPrice:    price,
		EndTime:         newEndTime,
		OriginalEndTime: originalEndTime,
		ReserveMet:      reserveSatisfiedAt(auction, price),
		Bids:            records,
		Events:          events,
		UpdatedAt:       now,
	}
	if err := e.repo.CommitBid(ctx, commit); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			e.log.Warn("Bid lost optimistic race", "auction_id", auctionID, "bidder_id", bidderID,
				"expected_version", auction.Version)
			return nil, &domain.Error{
				Kind:    domain.ErrConflict,
				Message: fmt.Sprintf("auction %s changed while bidding; re-read and retry", auctionID),
				Err:     err,
			}
		}
		e.log.Error("Failed to commit bid", "auction_id", auctionID, "error", err)
		return nil, fmt.Errorf("commit bid on auction %s: %w", auctionID, err)
	}

	updated := auction.Clone()
	updated.CurrentPrice = price
	updated.EndTime = newEndTime
	updated.OriginalEndTime = originalEndTime
	updated.ReserveMet = commit.ReserveMet
	updated.Version++
	updated.UpdatedAt = now

	queued := e.queue.Enqueue(events...)

	e.log.Info("Bid accepted", "auction_id", auctionID, "bidder_id", bidderID,
		"winner_id", winnerID, "price", price.String(), "extended", wasExtended)

	return &BidResult{
		Bid:                 own,
		Auction:             updated,
		WasExtended:         wasExtended,
		AutoBidTriggered:    autoTrigger,
		NotificationsQueued: queued,
	}, nil
}

// RaiseMaxBid lets the standing winner lift its proxy ceiling without moving the price.
func (e *BidEngine) RaiseMaxBid(ctx context.Context, auctionID, bidderID string, newMax decimal.Decimal) (*domain.Bid, error) {
	e.log.Info("Raising max bid", "auction_id", auctionID, "bidder_id", bidderID, "max_bid", newMax.String())

	auction, err := e.loadBiddableAuction(ctx, auctionID, bidderID)
	if err != nil {
		return nil, err
	}

	bids, err := e.repo.GetBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("load bids for auction %s: %w", auctionID, err)
	}
	current := winningBid(bids)
	if current == nil || current.BidderID != bidderID {
		return nil, domain.NewError(domain.ErrForbidden, "only the winning bidder may raise its max bid")
	}
	if !newMax.GreaterThan(current.MaxBid) {
		return nil, domain.NewError(domain.ErrValidationFailed, "new max bid must exceed %s", current.MaxBid.StringFixed(2))
	}

	now := e.now()
	if now.After(auction.EndTime) {
		return nil, domain.NewError(domain.ErrInvalidState, "auction %s ended", auctionID)
	}
	err = e.repo.UpdateMaxBid(ctx, &domain.MaxBidCommit{
		AuctionID:       auctionID,
		ExpectedVersion: auction.Version,
		BidID:           current.ID,
		MaxBid:          newMax,
		UpdatedAt:       now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, &domain.Error{
				Kind:    domain.ErrConflict,
				Message: fmt.Sprintf("auction %s changed while raising max bid; re-read and retry", auctionID),
				Err:     err,
			}
		}
		return nil, fmt.Errorf("raise max bid on auction %s: %w", auctionID, err)
	}

	raised := current.Clone()
	raised.MaxBid = newMax
	return raised, nil
}

// loadBiddableAuction runs the shared preconditions in their contractual order.
func (e *BidEngine) loadBiddableAuction(ctx context.Context, auctionID, bidderID string) (*domain.Auction, error) {
	auction, err := e.repo.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.Error{Kind: domain.ErrNotFound, Message: fmt.Sprintf("auction %s not found", auctionID), Err: err}
		}
		return nil, fmt.Errorf("load auction %s: %w", auctionID, err)
	}
	if auction.Status != domain.AuctionActive || !auction.Approved {
		return nil, domain.NewError(domain.ErrInvalidState, "auction %s is not open for bidding (status %s, approved %t)",
			auctionID, auction.Status, auction.Approved)
	}
	if bidderID == auction.SellerID {
		return nil, domain.NewError(domain.ErrForbidden, "sellers cannot bid on their own auction")
	}
	if e.now().After(auction.EndTime) {
		return nil, domain.NewError(domain.ErrInvalidState, "auction %s ended", auctionID)
	}
	return auction, nil
}

func winningBid(bids []*domain.Bid) *domain.Bid {
	for _, b := range bids {
		if b.IsWinning {
			return b
		}
	}
	return nil
}

// strongestCompetitor picks the highest ceiling held by anyone but bidderID that
// can still cover minimum. On equal ceilings the earliest bid wins.
func strongestCompetitor(bids []*domain.Bid, bidderID string, minimum decimal.Decimal) *domain.Bid {
	var best *domain.Bid
	for _, b := range bids {
		if b.BidderID == bidderID || b.MaxBid.LessThan(minimum) {
			continue
		}
		if best == nil || b.MaxBid.GreaterThan(best.MaxBid) {
			best = b
		}
	}
	return best
}

func newEvent(kind domain.EventKind, auctionID, recipientID string, at time.Time, payload map[string]interface{}) *domain.NotificationEvent {
	return &domain.NotificationEvent{
		ID:          utils.GenerateID("evt"),
		Kind:        kind,
		AuctionID:   auctionID,
		RecipientID: recipientID,
		Payload:     payload,
		CreatedAt:   at,
	}
}
