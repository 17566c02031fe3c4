package services

import (
	"time"

	"marketplace-bidding/internal/config"
	"marketplace-bidding/internal/domain"

	"github.com/shopspring/decimal"
)

// Pricing rules. Everything here is pure and deterministic.

// MinimumBid is max(highest recorded amount, starting price) + increment.
func MinimumBid(auction *domain.Auction, bids []*domain.Bid) decimal.Decimal {
	floor := auction.StartingPrice
	for _, b := range bids {
		if b.Amount.GreaterThan(floor) {
			floor = b.Amount
		}
	}
	return floor.Add(auction.MinBidIncrement)
}

// IsInSnipeWindow reports whether now falls in the last SnipeThreshold before
// the deadline. The deadline itself is inside the window, anything past it is not.
func IsInSnipeWindow(auction *domain.Auction, now time.Time) bool {
	remaining := auction.EndTime.Sub(now)
	return remaining > 0 && remaining <= auction.SnipeThreshold
}

func ExtendedEndTime(auction *domain.Auction) time.Time {
	return auction.EndTime.Add(auction.SnipeExtension)
}

// ReserveSatisfied is true when no reserve is set or the current price reaches it.
func ReserveSatisfied(auction *domain.Auction) bool {
	return reserveSatisfiedAt(auction, auction.CurrentPrice)
}

func reserveSatisfiedAt(auction *domain.Auction, price decimal.Decimal) bool {
	if !auction.ReservePrice.Valid {
		return true
	}
	return price.GreaterThanOrEqual(auction.ReservePrice.Decimal)
}

// Settings are the marketplace-wide values injected into the engine, the
// finalizer and the auction manager.
type Settings struct {
	CommissionRate        decimal.Decimal
	DefaultSnipeThreshold time.Duration
	DefaultSnipeExtension time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		CommissionRate:        decimal.RequireFromString("0.05"),
		DefaultSnipeThreshold: 5 * time.Minute,
		DefaultSnipeExtension: 5 * time.Minute,
	}
}

func SettingsFromConfig(cfg config.BiddingConfig) Settings {
	return Settings{
		CommissionRate:        decimal.NewFromFloat(cfg.CommissionRate),
		DefaultSnipeThreshold: cfg.DefaultSnipeThreshold,
		DefaultSnipeExtension: cfg.DefaultSnipeExtension,
	}
}
