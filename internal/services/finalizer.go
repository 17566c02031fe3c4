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

type SettlementResult struct {
	Auction             *domain.Auction
	Settlement          *domain.SettlementRecord
	NotificationsQueued int
}

// AuctionFinalizer closes ACTIVE auctions and writes their single settlement record.
type AuctionFinalizer struct {
	repo     domain.AuctionRepository
	queue    domain.EventQueue
	settings Settings
	now      func() time.Time
	log      logger.Logger
}

func NewAuctionFinalizer(repo domain.AuctionRepository, queue domain.EventQueue, settings Settings, log logger.Logger) *AuctionFinalizer {
	return &AuctionFinalizer{
		repo:     repo,
		queue:    queue,
		settings: settings,
		now:      time.Now,
		log:      log,
	}
}

// SetClock overrides time.Now.
func (f *AuctionFinalizer) SetClock(now func() time.Time) {
	f.now = now
}

func (f *AuctionFinalizer) Finalize(ctx context.Context, auctionID string) (*SettlementResult, error) {
	f.log.Info("Finalizing auction", "auction_id", auctionID)

	auction, err := f.repo.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.Error{Kind: domain.ErrNotFound, Message: fmt.Sprintf("auction %s not found", auctionID), Err: err}
		}
		return nil, fmt.Errorf("load auction %s: %w", auctionID, err)
	}
	if !auction.Status.CanTransitionTo(domain.AuctionEnded) {
		return nil, domain.NewError(domain.ErrInvalidState, "auction %s cannot be finalized from status %s", auctionID, auction.Status)
	}

	bids, err := f.repo.GetBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("load bids for auction %s: %w", auctionID, err)
	}

	now := f.now()
	winner := winningBid(bids)
	reserveMet := ReserveSatisfied(auction)

	settlement := &domain.SettlementRecord{
		ID:         utils.GenerateID("stl"),
		AuctionID:  auctionID,
		FinalPrice: decimal.Zero,
		Commission: decimal.Zero,
		CreatedAt:  now,
	}
	var events []*domain.NotificationEvent

	switch {
	case winner != nil && reserveMet:
		settlement.Outcome = domain.OutcomeSold
		settlement.WinnerID = winner.BidderID
		settlement.FinalPrice = winner.Amount
		settlement.Commission = winner.Amount.Mul(f.settings.CommissionRate).Round(2)
		payload := map[string]interface{}{
			"final_price": winner.Amount.StringFixed(2),
			"commission":  settlement.Commission.StringFixed(2),
		}
		events = append(events,
			newEvent(domain.EventAuctionWon, auctionID, winner.BidderID, now, payload),
			newEvent(domain.EventAuctionSold, auctionID, auction.SellerID, now, payload),
		)
	case winner != nil:
		settlement.Outcome = domain.OutcomeNoSaleReserveNotMet
		settlement.FinalPrice = winner.Amount
		payload := map[string]interface{}{
			"highest_bid": winner.Amount.StringFixed(2),
			"outcome":     string(settlement.Outcome),
		}
		events = append(events,
			newEvent(domain.EventReserveNotMet, auctionID, winner.BidderID, now, payload),
			newEvent(domain.EventNoSale, auctionID, auction.SellerID, now, payload),
		)
	default:
		settlement.Outcome = domain.OutcomeNoSaleNoBids
		events = append(events, newEvent(domain.EventNoSale, auctionID, auction.SellerID, now, map[string]interface{}{
			"outcome": string(settlement.Outcome),
		}))
	}

	err = f.repo.CommitSettlement(ctx, &domain.SettlementCommit{
		AuctionID:       auctionID,
		ExpectedVersion: auction.Version,
		ReserveMet:      reserveMet,
		Settlement:      settlement,
		Events:          events,
		UpdatedAt:       now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, &domain.Error{
				Kind:    domain.ErrConflict,
				Message: fmt.Sprintf("auction %s changed while finalizing", auctionID),
				Err:     err,
			}
		}
		f.log.Error("Failed to commit settlement", "auction_id", auctionID, "error", err)
		return nil, fmt.Errorf("commit settlement for auction %s: %w", auctionID, err)
	}

	ended := auction.Clone()
	ended.Status = domain.AuctionEnded
	ended.ReserveMet = reserveMet
	ended.Version++
	ended.UpdatedAt = now

	queued := f.queue.Enqueue(events...)

	f.log.Info("Auction finalized", "auction_id", auctionID, "outcome", settlement.Outcome,
		"final_price", settlement.FinalPrice.String())

	return &SettlementResult{
		Auction:             ended,
		Settlement:          settlement,
		NotificationsQueued: queued,
	}, nil
}
