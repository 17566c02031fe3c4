package handlers

import (
	"encoding/json"
	"net/http"

	"marketplace-bidding/internal/infrastructure/websocket"
	"marketplace-bidding/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

type BidHandler struct {
	bids websocket.BidPlacer
	log  logger.Logger
}

type PlaceBidRequest struct {
	Amount decimal.Decimal     `json:"amount"`
	MaxBid decimal.NullDecimal `json:"max_bid"`
}

type RaiseMaxBidRequest struct {
	MaxBid decimal.Decimal `json:"max_bid"`
}

func NewBidHandler(bids websocket.BidPlacer, log logger.Logger) *BidHandler {
	return &BidHandler{bids: bids, log: log}
}

// Register mounts the bid routes on a mux subrouter.
func (h *BidHandler) Register(r *mux.Router) {
	r.HandleFunc("/auctions/{auctionID}/bids", h.PlaceBid).Methods(http.MethodPost)
	r.HandleFunc("/auctions/{auctionID}/bids/max", h.RaiseMaxBid).Methods(http.MethodPut)
}

func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidderID := r.Header.Get(UserIDHeader)
	if bidderID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing " + UserIDHeader + " header"})
		return
	}

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	auctionID := mux.Vars(r)["auctionID"]
	res, err := h.bids.PlaceBid(r.Context(), auctionID, bidderID, req.Amount, req.MaxBid)
	if err != nil {
		if StatusFor(err) == http.StatusInternalServerError {
			h.log.Error("Failed to place bid", "auction_id", auctionID, "bidder_id", bidderID, "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, BidResponse{
		BidID:               res.Bid.ID,
		BidderID:            res.Bid.BidderID,
		Amount:              res.Bid.Amount.StringFixed(2),
		MaxBid:              res.Bid.MaxBid.StringFixed(2),
		IsWinning:           res.Bid.IsWinning,
		WasExtended:         res.WasExtended,
		AutoBidTriggered:    res.AutoBidTriggered,
		NotificationsQueued: res.NotificationsQueued,
		Auction:             toAuctionResponse(res.Auction),
	})
}

func (h *BidHandler) RaiseMaxBid(w http.ResponseWriter, r *http.Request) {
	bidderID := r.Header.Get(UserIDHeader)
	if bidderID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing " + UserIDHeader + " header"})
		return
	}

	var req RaiseMaxBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	bid, err := h.bids.RaiseMaxBid(r.Context(), mux.Vars(r)["auctionID"], bidderID, req.MaxBid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bid_id":  bid.ID,
		"max_bid": bid.MaxBid.StringFixed(2),
	})
}
