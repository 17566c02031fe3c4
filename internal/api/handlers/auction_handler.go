package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/internal/services"
	"marketplace-bidding/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// AuctionLifecycle is implemented by services.AuctionManager.
type AuctionLifecycle interface {
	CreateAuction(ctx context.Context, p services.CreateAuctionParams) (*domain.Auction, error)
	ApproveAuction(ctx context.Context, auctionID string) error
	StartAuction(ctx context.Context, auctionID string) error
	CancelAuction(ctx context.Context, auctionID string) error
	FinalizeAuction(ctx context.Context, auctionID string) (*services.SettlementResult, error)
}

type AuctionHandler struct {
	auctionManager AuctionLifecycle
	auctionRepo    domain.AuctionRepository
	log            logger.Logger
}

type CreateAuctionRequest struct {
	StartingPrice         decimal.Decimal     `json:"starting_price"`
	MinBidIncrement       decimal.Decimal     `json:"min_bid_increment"`
	ReservePrice          decimal.NullDecimal `json:"reserve_price"`
	BuyNowPrice           decimal.NullDecimal `json:"buy_now_price"`
	SnipeThresholdSeconds int64               `json:"snipe_threshold_seconds"`
	SnipeExtensionSeconds int64               `json:"snipe_extension_seconds"`
	StartTime             time.Time           `json:"start_time"`
	EndTime               time.Time           `json:"end_time"`
}

func NewAuctionHandler(auctionManager AuctionLifecycle, auctionRepo domain.AuctionRepository,
	log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionManager: auctionManager,
		auctionRepo:    auctionRepo,
		log:            log,
	}
}

// Register mounts the auction routes on an echo group.
func (h *AuctionHandler) Register(g *echo.Group) {
	g.POST("/auctions", h.CreateAuction)
	g.GET("/auctions/:id", h.GetAuction)
	g.POST("/auctions/:id/approve", h.ApproveAuction)
	g.POST("/auctions/:id/start", h.StartAuction)
	g.POST("/auctions/:id/cancel", h.CancelAuction)
	g.POST("/auctions/:id/finalize", h.FinalizeAuction)
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	sellerID := c.Request().Header.Get(UserIDHeader)
	if sellerID == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing " + UserIDHeader + " header"})
	}

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	auction, err := h.auctionManager.CreateAuction(c.Request().Context(), services.CreateAuctionParams{
		SellerID:        sellerID,
		StartingPrice:   req.StartingPrice,
		ReservePrice:    req.ReservePrice,
		BuyNowPrice:     req.BuyNowPrice,
		MinBidIncrement: req.MinBidIncrement,
		SnipeThreshold:  time.Duration(req.SnipeThresholdSeconds) * time.Second,
		SnipeExtension:  time.Duration(req.SnipeExtensionSeconds) * time.Second,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
	})
	if err != nil {
		return h.fail(c, "create auction", err)
	}

	h.log.Info("Auction created successfully", "auction_id", auction.ID)
	return c.JSON(http.StatusCreated, toAuctionResponse(auction))
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	ctx := c.Request().Context()
	auctionID := c.Param("id")

	auction, err := h.auctionRepo.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.NewError(domain.ErrNotFound, "auction %s not found", auctionID)
		}
		return h.fail(c, "get auction", err)
	}

	resp := toAuctionResponse(auction)
	if auction.Status == domain.AuctionEnded {
		settlement, err := h.auctionRepo.GetSettlement(ctx, auctionID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return h.fail(c, "get settlement", err)
		}
		if settlement != nil {
			resp.Settlement = toSettlementResponse(settlement)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuctionHandler) ApproveAuction(c echo.Context) error {
	return h.lifecycle(c, "approve", "approved", h.auctionManager.ApproveAuction)
}

func (h *AuctionHandler) StartAuction(c echo.Context) error {
	return h.lifecycle(c, "start", "active", h.auctionManager.StartAuction)
}

func (h *AuctionHandler) CancelAuction(c echo.Context) error {
	return h.lifecycle(c, "cancel", "cancelled", h.auctionManager.CancelAuction)
}

func (h *AuctionHandler) FinalizeAuction(c echo.Context) error {
	result, err := h.auctionManager.FinalizeAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "finalize auction", err)
	}
	resp := toAuctionResponse(result.Auction)
	resp.Settlement = toSettlementResponse(result.Settlement)
	return c.JSON(http.StatusOK, resp)
}

func (h *AuctionHandler) lifecycle(c echo.Context, op, result string, fn func(context.Context, string) error) error {
	auctionID := c.Param("id")
	if err := fn(c.Request().Context(), auctionID); err != nil {
		return h.fail(c, op+" auction", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"auction_id": auctionID, "result": result})
}

func (h *AuctionHandler) fail(c echo.Context, op string, err error) error {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "op", op, "error", err)
	} else {
		h.log.Info("Request rejected", "op", op, "status", status, "error", err)
	}
	return c.JSON(status, NewErrorResponse(err))
}
