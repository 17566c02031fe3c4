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

type CreateAuctionParams struct {
	SellerID        string
	StartingPrice   decimal.Decimal
	ReservePrice    decimal.NullDecimal
	BuyNowPrice     decimal.NullDecimal
	MinBidIncrement decimal.Decimal
	// Zero values fall back to Settings defaults.
	SnipeThreshold time.Duration
	SnipeExtension time.Duration
	StartTime      time.Time
	EndTime        time.Time
}

// AuctionManager owns the lifecycle edges around bidding: creation, moderation
// approval, start, cancellation and the scheduled end that triggers settlement.
type AuctionManager struct {
	auctionRepo domain.AuctionRepository
	stateCache  domain.AuctionStateCache
	scheduler   domain.AuctionScheduler
	finalizer   *AuctionFinalizer
	settings    Settings
	now         func() time.Time
	log         logger.Logger
}

func NewAuctionManager(
	auctionRepo domain.AuctionRepository,
	stateCache domain.AuctionStateCache,
	scheduler domain.AuctionScheduler,
	finalizer *AuctionFinalizer,
	settings Settings,
	log logger.Logger,
) *AuctionManager {
	return &AuctionManager{
		auctionRepo: auctionRepo,
		stateCache:  stateCache,
		scheduler:   scheduler,
		finalizer:   finalizer,
		settings:    settings,
		now:         time.Now,
		log:         log,
	}
}

func (am *AuctionManager) SetScheduler(scheduler domain.AuctionScheduler) {
	am.scheduler = scheduler
}

func (am *AuctionManager) SetClock(now func() time.Time) {
	am.now = now
}

func (am *AuctionManager) CreateAuction(ctx context.Context, p CreateAuctionParams) (*domain.Auction, error) {
	if err := validateCreateParams(p); err != nil {
		return nil, err
	}

	now := am.now()
	auction := &domain.Auction{
		ID:              utils.GenerateID("auction"),
		SellerID:        p.SellerID,
		StartingPrice:   p.StartingPrice,
		CurrentPrice:    p.StartingPrice,
		ReservePrice:    p.ReservePrice,
		BuyNowPrice:     p.BuyNowPrice,
		MinBidIncrement: p.MinBidIncrement,
		SnipeThreshold:  p.SnipeThreshold,
		SnipeExtension:  p.SnipeExtension,
		StartTime:       p.StartTime,
		EndTime:         p.EndTime,
		OriginalEndTime: p.EndTime,
		Status:          domain.AuctionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if auction.SnipeThreshold == 0 {
		auction.SnipeThreshold = am.settings.DefaultSnipeThreshold
	}
	if auction.SnipeExtension == 0 {
		auction.SnipeExtension = am.settings.DefaultSnipeExtension
	}
	auction.ReserveMet = ReserveSatisfied(auction)

	// Save to database
	if err := am.auctionRepo.CreateAuction(ctx, auction); err != nil {
		return nil, fmt.Errorf("create auction: %w", err)
	}

	// Schedule start and end
	if err := am.scheduler.ScheduleAuctionStart(ctx, auction.ID, auction.StartTime); err != nil {
		return nil, err
	}
	if err := am.scheduler.ScheduleAuctionEnd(ctx, auction.ID, auction.EndTime); err != nil {
		return nil, err
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "seller_id", auction.SellerID)
	return auction, nil
}

func validateCreateParams(p CreateAuctionParams) error {
	switch {
	case p.SellerID == "":
		return domain.NewError(domain.ErrValidationFailed, "seller is required")
	case !p.StartingPrice.IsPositive():
		return domain.NewError(domain.ErrValidationFailed, "starting price must be positive")
	case !p.MinBidIncrement.IsPositive():
		return domain.NewError(domain.ErrValidationFailed, "minimum bid increment must be positive")
	case !p.EndTime.After(p.StartTime):
		return domain.NewError(domain.ErrValidationFailed, "end time must be after start time")
	case p.SnipeThreshold < 0 || p.SnipeExtension < 0:
		return domain.NewError(domain.ErrValidationFailed, "snipe durations must not be negative")
	case p.ReservePrice.Valid && p.ReservePrice.Decimal.LessThan(p.StartingPrice):
		return domain.NewError(domain.ErrValidationFailed, "reserve price must not be below the starting price")
	case p.BuyNowPrice.Valid && !p.BuyNowPrice.Decimal.GreaterThan(p.StartingPrice):
		return domain.NewError(domain.ErrValidationFailed, "buy-now price must exceed the starting price")
	}
	return nil
}

// ApproveAuction records the moderation decision. Bids are only accepted on approved auctions.
func (am *AuctionManager) ApproveAuction(ctx context.Context, auctionID string) error {
	if err := am.auctionRepo.SetApproved(ctx, auctionID, true); err != nil {
		return am.wrapRepoError(auctionID, "approve", err)
	}
	am.log.Info("Auction approved", "auction_id", auctionID)
	return nil
}

func (am *AuctionManager) StartAuction(ctx context.Context, auctionID string) error {
	am.log.Info("Starting auction", "auction_id", auctionID)
	return am.transition(ctx, auctionID, domain.AuctionActive)
}

func (am *AuctionManager) CancelAuction(ctx context.Context, auctionID string) error {
	am.log.Info("Cancelling auction", "auction_id", auctionID)
	if err := am.transition(ctx, auctionID, domain.AuctionCancelled); err != nil {
		return err
	}
	return am.scheduler.CancelSchedule(ctx, auctionID)
}

// EndAuction runs when an end job fires. A deadline that moved because of snipe
// protection is rescheduled instead of settled.
func (am *AuctionManager) EndAuction(ctx context.Context, auctionID string) error {
	auction, err := am.auctionRepo.GetAuction(ctx, auctionID)
	if err != nil {
		return am.wrapRepoError(auctionID, "end", err)
	}
	if auction.Status != domain.AuctionActive {
		am.log.Info("Skipping end of inactive auction", "auction_id", auctionID, "status", auction.Status)
		return nil
	}
	if am.now().Before(auction.EndTime) {
		am.log.Info("Auction was extended, rescheduling end", "auction_id", auctionID, "end_time", auction.EndTime)
		return am.scheduler.RescheduleAuctionEnd(ctx, auctionID, auction.EndTime)
	}

	result, err := am.finalizer.Finalize(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil
		}
		return err
	}

	am.cacheStatus(ctx, auctionID, domain.AuctionEnded)
	am.log.Info("Auction ended", "auction_id", auctionID, "outcome", result.Settlement.Outcome)
	return nil
}

// FinalizeAuction settles an auction on demand. The status cache and the
// pending jobs are brought in line the same way a scheduled end does.
func (am *AuctionManager) FinalizeAuction(ctx context.Context, auctionID string) (*SettlementResult, error) {
	result, err := am.finalizer.Finalize(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	am.cacheStatus(ctx, auctionID, domain.AuctionEnded)
	if am.scheduler != nil {
		if err := am.scheduler.CancelSchedule(ctx, auctionID); err != nil {
			am.log.Warn("Failed to cancel jobs of settled auction", "auction_id", auctionID, "error", err)
		}
	}
	am.log.Info("Auction finalized on request", "auction_id", auctionID, "outcome", result.Settlement.Outcome)
	return result, nil
}

func (am *AuctionManager) transition(ctx context.Context, auctionID string, to domain.AuctionStatus) error {
	auction, err := am.auctionRepo.GetAuction(ctx, auctionID)
	if err != nil {
		return am.wrapRepoError(auctionID, "load", err)
	}
	if !auction.Status.CanTransitionTo(to) {
		return domain.NewError(domain.ErrInvalidState, "auction %s cannot move from %s to %s", auctionID, auction.Status, to)
	}
	if err := am.auctionRepo.UpdateAuctionStatus(ctx, auctionID, auction.Status, to); err != nil {
		return am.wrapRepoError(auctionID, "update status of", err)
	}
	am.cacheStatus(ctx, auctionID, to)
	return nil
}

// cacheStatus mirrors the status for the websocket layer; the store stays authoritative.
func (am *AuctionManager) cacheStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) {
	if am.stateCache == nil {
		return
	}
	if err := am.stateCache.SetAuctionStatus(ctx, auctionID, status); err != nil {
		am.log.Warn("Failed to cache auction status", "auction_id", auctionID, "status", status, "error", err)
	}
}

func (am *AuctionManager) wrapRepoError(auctionID, op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return &domain.Error{Kind: domain.ErrNotFound, Message: fmt.Sprintf("auction %s not found", auctionID), Err: err}
	case errors.Is(err, domain.ErrConflict):
		return &domain.Error{Kind: domain.ErrConflict, Message: fmt.Sprintf("auction %s changed concurrently", auctionID), Err: err}
	default:
		return fmt.Errorf("%s auction %s: %w", op, auctionID, err)
	}
}
