package handlers

import (
	"time"

	"marketplace-bidding/internal/domain"
)

type AuctionResponse struct {
	AuctionID       string              `json:"auction_id"`
	SellerID        string              `json:"seller_id"`
	Status          string              `json:"status"`
	Approved        bool                `json:"approved"`
	StartingPrice   string              `json:"starting_price"`
	CurrentPrice    string              `json:"current_price"`
	MinBidIncrement string              `json:"min_bid_increment"`
	BuyNowPrice     string              `json:"buy_now_price,omitempty"`
	HasReserve      bool                `json:"has_reserve"`
	ReserveMet      bool                `json:"reserve_met"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	OriginalEndTime time.Time           `json:"original_end_time"`
	Version         int64               `json:"version"`
	Settlement      *SettlementResponse `json:"settlement,omitempty"`
}

type SettlementResponse struct {
	ID         string    `json:"id"`
	Outcome    string    `json:"outcome"`
	WinnerID   string    `json:"winner_id,omitempty"`
	FinalPrice string    `json:"final_price"`
	Commission string    `json:"commission"`
	CreatedAt  time.Time `json:"created_at"`
}

type BidResponse struct {
	BidID               string          `json:"bid_id"`
	BidderID            string          `json:"bidder_id"`
	Amount              string          `json:"amount"`
	MaxBid              string          `json:"max_bid"`
	IsWinning           bool            `json:"is_winning"`
	WasExtended         bool            `json:"was_extended"`
	AutoBidTriggered    bool            `json:"auto_bid_triggered"`
	NotificationsQueued int             `json:"notifications_queued"`
	Auction             AuctionResponse `json:"auction"`
}

// toAuctionResponse hides the reserve amount; bidders only learn whether it was met.
func toAuctionResponse(a *domain.Auction) AuctionResponse {
	resp := AuctionResponse{
		AuctionID:       a.ID,
		SellerID:        a.SellerID,
		Status:          a.Status.String(),
		Approved:        a.Approved,
		StartingPrice:   a.StartingPrice.StringFixed(2),
		CurrentPrice:    a.CurrentPrice.StringFixed(2),
		MinBidIncrement: a.MinBidIncrement.StringFixed(2),
		HasReserve:      a.ReservePrice.Valid,
		ReserveMet:      a.ReserveMet,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		OriginalEndTime: a.OriginalEndTime,
		Version:         a.Version,
	}
	if a.BuyNowPrice.Valid {
		resp.BuyNowPrice = a.BuyNowPrice.Decimal.StringFixed(2)
	}
	return resp
}

func toSettlementResponse(s *domain.SettlementRecord) *SettlementResponse {
	return &SettlementResponse{
		ID:         s.ID,
		Outcome:    string(s.Outcome),
		WinnerID:   s.WinnerID,
		FinalPrice: s.FinalPrice.StringFixed(2),
		Commission: s.Commission.StringFixed(2),
		CreatedAt:  s.CreatedAt,
	}
}
