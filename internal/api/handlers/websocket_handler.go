package handlers

import (
	"net/http"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/internal/infrastructure/websocket"
	"marketplace-bidding/pkg/logger"

	"github.com/gorilla/mux"
)

type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
}

func NewWebSocketHandlers(bids websocket.BidPlacer, auctionRepo domain.AuctionRepository, stateCache domain.AuctionStateCache,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		wsHandler: websocket.NewWebSocketHandler(bids, auctionRepo, stateCache, connManager, log),
	}
}

func (h *WebSocketHandlers) Register(r *mux.Router) {
	r.HandleFunc("/ws/auction/{auctionID}", h.HandleConnection)
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
