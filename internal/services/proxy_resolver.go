package services

import (
	"time"

	"marketplace-bidding/internal/domain"

	"github.com/shopspring/decimal"
)

// ProxyDuel is a new bid meeting the strongest standing proxy bid of another bidder.
type ProxyDuel struct {
	AuctionID          string
	NewBidderID        string
	NewAmount          decimal.Decimal
	NewMaxBid          decimal.Decimal
	CompetitorBidderID string
	CompetitorMaxBid   decimal.Decimal
	Increment          decimal.Decimal
	At                 time.Time
}

// ProxyOutcome carries the two bid rows the duel produces. The records have no
// IDs yet; the caller assigns them before persisting.
type ProxyOutcome struct {
	WinningBidderID string
	ResultingPrice  decimal.Decimal
	LoserRecord     *domain.Bid
	WinnerRecord    *domain.Bid
}

// NewBidderWon reports whether the challenger displaced the standing proxy.
func (o ProxyOutcome) NewBidderWon(d ProxyDuel) bool {
	return o.WinningBidderID == d.NewBidderID
}

// ResolveProxyDuel applies English-auction proxy semantics. The challenger
// must strictly exceed the competitor's ceiling; equal ceilings keep the
// standing bidder on top.
func ResolveProxyDuel(d ProxyDuel) ProxyOutcome {
	if d.NewMaxBid.GreaterThan(d.CompetitorMaxBid) {
		// The challenger pays one increment over the beaten ceiling, not what it offered.
		price := decimal.Min(d.NewMaxBid, d.CompetitorMaxBid.Add(d.Increment))

		return ProxyOutcome{
			WinningBidderID: d.NewBidderID,
			ResultingPrice:  price,
			LoserRecord: &domain.Bid{
				AuctionID: d.AuctionID,
				BidderID:  d.CompetitorBidderID,
				Amount:    d.CompetitorMaxBid,
				MaxBid:    d.CompetitorMaxBid,
				IsAutoBid: true,
				CreatedAt: d.At,
			},
			WinnerRecord: &domain.Bid{
				AuctionID: d.AuctionID,
				BidderID:  d.NewBidderID,
				Amount:    price,
				MaxBid:    d.NewMaxBid,
				IsWinning: true,
				CreatedAt: d.At,
			},
		}
	}

	price := decimal.Min(d.CompetitorMaxBid, d.NewMaxBid.Add(d.Increment))
	return ProxyOutcome{
		WinningBidderID: d.CompetitorBidderID,
		ResultingPrice:  price,
		LoserRecord: &domain.Bid{
			AuctionID: d.AuctionID,
			BidderID:  d.NewBidderID,
			Amount:    d.NewAmount,
			MaxBid:    d.NewMaxBid,
			CreatedAt: d.At,
		},
		WinnerRecord: &domain.Bid{
			AuctionID: d.AuctionID,
			BidderID:  d.CompetitorBidderID,
			Amount:    price,
			MaxBid:    d.CompetitorMaxBid,
			IsWinning: true,
			IsAutoBid: true,
			CreatedAt: d.At,
		},
	}
}
