package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/internal/services"
	"marketplace-bidding/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// BidPlacer is the part of the bid engine reachable from a socket.
type BidPlacer interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, maxBid decimal.NullDecimal) (*services.BidResult, error)
	RaiseMaxBid(ctx context.Context, auctionID, bidderID string, newMax decimal.Decimal) (*domain.Bid, error)
}

type WebSocketHandler struct {
	bids        BidPlacer
	auctionRepo domain.AuctionRepository
	stateCache  domain.AuctionStateCache
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(bids BidPlacer, auctionRepo domain.AuctionRepository, stateCache domain.AuctionStateCache,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bids:        bids,
		auctionRepo: auctionRepo,
		stateCache:  stateCache,
		connManager: connManager,
		log:         log,
	}
}

type clientMessage struct {
	Type   string `json:"type"`
	Amount string `json:"amount"`
	MaxBid string `json:"max_bid,omitempty"`
}

type bidAcceptedFrame struct {
	Type             string    `json:"type"`
	AuctionID        string    `json:"auction_id"`
	BidID            string    `json:"bid_id"`
	Amount           string    `json:"amount"`
	IsWinning        bool      `json:"is_winning"`
	CurrentPrice     string    `json:"current_price"`
	EndTime          time.Time `json:"end_time"`
	WasExtended      bool      `json:"was_extended"`
	AutoBidTriggered bool      `json:"auto_bid_triggered"`
}

type errorFrame struct {
	Type       string `json:"type"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message"`
	MinimumBid string `json:"minimum_bid,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	status, err := h.auctionStatus(r.Context(), auctionID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to load auction status", "auction_id", auctionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if status == domain.AuctionEnded || status == domain.AuctionCancelled {
		h.log.Info("Rejected connection to closed auction", "auction_id", auctionID, "status", status)
		http.Error(w, "auction is closed", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID, h.log)
	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		conn.Close()
		return
	}

	go h.handleMessages(wsConn)
}

// auctionStatus prefers the cache and falls back to the store on a miss.
func (h *WebSocketHandler) auctionStatus(ctx context.Context, auctionID string) (domain.AuctionStatus, error) {
	if h.stateCache != nil {
		status, err := h.stateCache.GetAuctionStatus(ctx, auctionID)
		if err == nil {
			return status, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Warn("State cache unavailable", "auction_id", auctionID, "error", err)
		}
	}
	auction, err := h.auctionRepo.GetAuction(ctx, auctionID)
	if err != nil {
		return domain.AuctionPending, err
	}
	return auction.Status, nil
}

func (h *WebSocketHandler) handleMessages(conn *WebSocketConnection) {
	defer func() {
		h.connManager.UnregisterConnection(conn)
		conn.Close()
	}()

	for {
		var msg clientMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Socket read ended", "user_id", conn.UserID(), "error", err)
			}
			return
		}
		h.handleClientMessage(context.Background(), conn, msg)
	}
}

func (h *WebSocketHandler) handleClientMessage(ctx context.Context, conn domain.WebSocketConnection, msg clientMessage) {
	switch msg.Type {
	case "place_bid":
		h.handleBidMessage(ctx, conn, msg)
	case "raise_max_bid":
		h.handleRaiseMessage(ctx, conn, msg)
	case "ping":
		conn.Send(map[string]string{"type": "pong"})
	default:
		conn.Send(errorFrame{Type: "error", Message: "unknown message type"})
	}
}

func (h *WebSocketHandler) handleBidMessage(ctx context.Context, conn domain.WebSocketConnection, msg clientMessage) {
	amount, err := decimal.NewFromString(msg.Amount)
	if err != nil {
		conn.Send(errorFrame{Type: "error", Kind: string(domain.ErrValidationFailed), Message: "invalid amount format"})
		return
	}
	var maxBid decimal.NullDecimal
	if msg.MaxBid != "" {
		parsed, err := decimal.NewFromString(msg.MaxBid)
		if err != nil {
			conn.Send(errorFrame{Type: "error", Kind: string(domain.ErrValidationFailed), Message: "invalid max_bid format"})
			return
		}
		maxBid = decimal.NewNullDecimal(parsed)
	}

	res, err := h.bids.PlaceBid(ctx, conn.AuctionID(), conn.UserID(), amount, maxBid)
	if err != nil {
		h.log.Info("Bid rejected", "auction_id", conn.AuctionID(), "user_id", conn.UserID(), "error", err)
		conn.Send(toErrorFrame(err))
		return
	}

	conn.Send(bidAcceptedFrame{
		Type:             "bid_accepted",
		AuctionID:        res.Auction.ID,
		BidID:            res.Bid.ID,
		Amount:           res.Bid.Amount.StringFixed(2),
		IsWinning:        res.Bid.IsWinning,
		CurrentPrice:     res.Auction.CurrentPrice.StringFixed(2),
		EndTime:          res.Auction.EndTime,
		WasExtended:      res.WasExtended,
		AutoBidTriggered: res.AutoBidTriggered,
	})
}

func (h *WebSocketHandler) handleRaiseMessage(ctx context.Context, conn domain.WebSocketConnection, msg clientMessage) {
	newMax, err := decimal.NewFromString(msg.MaxBid)
	if err != nil {
		conn.Send(errorFrame{Type: "error", Kind: string(domain.ErrValidationFailed), Message: "invalid max_bid format"})
		return
	}
	bid, err := h.bids.RaiseMaxBid(ctx, conn.AuctionID(), conn.UserID(), newMax)
	if err != nil {
		conn.Send(toErrorFrame(err))
		return
	}
	conn.Send(map[string]string{"type": "max_bid_raised", "bid_id": bid.ID, "max_bid": bid.MaxBid.StringFixed(2)})
}

func toErrorFrame(err error) errorFrame {
	frame := errorFrame{Type: "error", Message: "failed to place bid"}
	var derr *domain.Error
	if errors.As(err, &derr) {
		frame.Kind = string(derr.Kind)
		frame.Message = derr.Message
		if derr.MinimumBid.Valid {
			frame.MinimumBid = derr.MinimumBid.Decimal.StringFixed(2)
		}
	}
	frame.Retryable = domain.IsRetryable(err)
	return frame
}

type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	log       logger.Logger
	writeMu   sync.Mutex
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string, log logger.Logger) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
		log:       log,
	}
}

// Send writes one JSON frame. gorilla allows a single concurrent writer.
func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) Close() error {
	return wsc.conn.Close()
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
