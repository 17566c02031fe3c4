package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/internal/infrastructure/memory"
	"marketplace-bidding/internal/services"
	"marketplace-bidding/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewError(domain.ErrNotFound, "x"), http.StatusNotFound},
		{domain.NewError(domain.ErrForbidden, "x"), http.StatusForbidden},
		{domain.NewError(domain.ErrInvalidState, "x"), http.StatusConflict},
		{domain.NewError(domain.ErrValidationFailed, "x"), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", domain.NewError(domain.ErrConflict, "x")), http.StatusConflict},
		{domain.ErrNotFound, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			check.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(domain.BelowMinimum(decimal.NewFromInt(1100)))
	check.Equal(t, "validation failed", resp.Kind)
	check.Equal(t, "1100.00", resp.MinimumBid)
	check.Equal(t, "bid must be at least 1100.00", resp.Error)

	conflict := NewErrorResponse(&domain.Error{Kind: domain.ErrConflict, Message: "stale", Err: domain.ErrConflict})
	check.True(t, conflict.Retryable)

	internal := NewErrorResponse(errors.New("dsn with password"))
	check.Equal(t, "internal error", internal.Error)
	check.Equal(t, "", internal.Kind)
}

func seedAuction(t *testing.T, store *memory.Store, id string, status domain.AuctionStatus) {
	t.Helper()
	now := time.Now()
	assert.NoError(t, store.CreateAuction(context.Background(), &domain.Auction{
		ID:              id,
		SellerID:        "seller",
		StartingPrice:   decimal.NewFromInt(1000),
		CurrentPrice:    decimal.NewFromInt(1000),
		MinBidIncrement: decimal.NewFromInt(100),
		SnipeThreshold:  5 * time.Minute,
		SnipeExtension:  5 * time.Minute,
		StartTime:       now.Add(-time.Hour),
		EndTime:         now.Add(time.Hour),
		OriginalEndTime: now.Add(time.Hour),
		Status:          status,
		Approved:        true,
		ReserveMet:      true,
	}))
}

type discardQueue struct{}

func (discardQueue) Enqueue(events ...*domain.NotificationEvent) int { return len(events) }

func newBidRouter(t *testing.T) *mux.Router {
	t.Helper()
	store := memory.NewStore()
	seedAuction(t, store, "auction_1", domain.AuctionActive)
	seedAuction(t, store, "auction_ended", domain.AuctionEnded)

	engine := services.NewBidEngine(store, discardQueue{}, logger.NewNop())
	router := mux.NewRouter()
	NewBidHandler(engine, logger.NewNop()).Register(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func doJSON(t *testing.T, h http.Handler, method, path, user, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestBidHandler_ErrorMapping(t *testing.T) {
	router := newBidRouter(t)

	tests := []struct {
		name   string
		path   string
		user   string
		body   string
		status int
		kind   string
	}{
		{"missing identity", "/api/v1/auctions/auction_1/bids", "", `{"amount":"1100"}`, http.StatusUnauthorized, ""},
		{"malformed body", "/api/v1/auctions/auction_1/bids", "alice", `{"amount":`, http.StatusBadRequest, ""},
		{"below minimum", "/api/v1/auctions/auction_1/bids", "alice", `{"amount":"1050"}`, http.StatusUnprocessableEntity, "validation failed"},
		{"seller bids", "/api/v1/auctions/auction_1/bids", "seller", `{"amount":"1100"}`, http.StatusForbidden, "forbidden"},
		{"unknown auction", "/api/v1/auctions/missing/bids", "alice", `{"amount":"1100"}`, http.StatusNotFound, "not found"},
		{"ended auction", "/api/v1/auctions/auction_ended/bids", "alice", `{"amount":"1100"}`, http.StatusConflict, "invalid state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, router, http.MethodPost, tt.path, tt.user, tt.body)
			check.Equal(t, tt.status, rec.Code)
			kind, _ := body["kind"].(string)
			check.Equal(t, tt.kind, kind)
		})
	}
}

func TestBidHandler_PlaceAndRaise(t *testing.T) {
	router := newBidRouter(t)

	rec, body := doJSON(t, router, http.MethodPost, "/api/v1/auctions/auction_1/bids", "alice", `{"amount":"1100","max_bid":"1500"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	check.Equal(t, true, body["is_winning"])
	check.Equal(t, "1500.00", body["max_bid"])

	rec, body = doJSON(t, router, http.MethodPost, "/api/v1/auctions/auction_1/bids", "bob", `{"amount":"1200","max_bid":"1300"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	check.Equal(t, false, body["is_winning"])
	check.Equal(t, true, body["auto_bid_triggered"])
	auction, ok := body["auction"].(map[string]interface{})
	assert.True(t, ok)
	check.Equal(t, "1400.00", auction["current_price"])

	rec, _ = doJSON(t, router, http.MethodPut, "/api/v1/auctions/auction_1/bids/max", "alice", `{"max_bid":"2500"}`)
	check.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, router, http.MethodPut, "/api/v1/auctions/auction_1/bids/max", "bob", `{"max_bid":"3000"}`)
	check.Equal(t, http.StatusForbidden, rec.Code)
	check.Equal(t, "forbidden", body["kind"])
}

type alwaysLeader struct{}

func (alwaysLeader) BecomeLeader(ctx context.Context, instanceID string) (bool, error) { return true, nil }
func (alwaysLeader) IsLeader(ctx context.Context, instanceID string) (bool, error)     { return true, nil }
func (alwaysLeader) ReleaseLeadership(ctx context.Context, instanceID string) error    { return nil }

type statusCache struct {
	mu       sync.Mutex
	statuses map[string]domain.AuctionStatus
}

func (c *statusCache) SetAuctionStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statuses == nil {
		c.statuses = make(map[string]domain.AuctionStatus)
	}
	c.statuses[auctionID] = status
	return nil
}

func (c *statusCache) GetAuctionStatus(ctx context.Context, auctionID string) (domain.AuctionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[auctionID]
	if !ok {
		return domain.AuctionPending, domain.ErrNotFound
	}
	return status, nil
}

func newAuctionServer(t *testing.T) (*echo.Echo, *statusCache) {
	t.Helper()
	store := memory.NewStore()
	cache := &statusCache{}
	log := logger.NewNop()
	finalizer := services.NewAuctionFinalizer(store, discardQueue{}, services.DefaultSettings(), log)
	manager := services.NewAuctionManager(store, cache, nil, finalizer, services.DefaultSettings(), log)
	manager.SetScheduler(services.NewCronAuctionScheduler(store, manager, alwaysLeader{}, "test", time.Second, log))

	e := echo.New()
	NewAuctionHandler(manager, store, log).Register(e.Group("/api/v1"))
	return e, cache
}

func TestAuctionHandler_Lifecycle(t *testing.T) {
	e, cache := newAuctionServer(t)
	start := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	rec, body := doJSON(t, e, http.MethodPost, "/api/v1/auctions", "seller",
		fmt.Sprintf(`{"starting_price":"1000","min_bid_increment":"50","reserve_price":"2000","start_time":%q,"end_time":%q}`, start, end))
	assert.Equal(t, http.StatusCreated, rec.Code)
	id, _ := body["auction_id"].(string)
	assert.NotEqual(t, "", id)
	check.Equal(t, "pending", body["status"])
	check.Equal(t, true, body["has_reserve"])
	check.Equal(t, false, body["reserve_met"])
	_, leaked := body["reserve_price"]
	check.False(t, leaked)

	rec, body = doJSON(t, e, http.MethodPost, "/api/v1/auctions/"+id+"/finalize", "", "")
	check.Equal(t, http.StatusConflict, rec.Code)
	check.Equal(t, "invalid state", body["kind"])

	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/auctions/"+id+"/approve", "", "")
	check.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/auctions/"+id+"/start", "", "")
	check.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, e, http.MethodPost, "/api/v1/auctions/"+id+"/finalize", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	settlement, ok := body["settlement"].(map[string]interface{})
	assert.True(t, ok)
	check.Equal(t, "NO_SALE_NO_BIDS", settlement["outcome"])

	// Websocket upgrades consult the cache, so settling must mark it ended.
	cached, err := cache.GetAuctionStatus(context.Background(), id)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionEnded, cached)

	rec, body = doJSON(t, e, http.MethodGet, "/api/v1/auctions/"+id, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "ended", body["status"])
	check.NotNil(t, body["settlement"])

	rec, _ = doJSON(t, e, http.MethodPost, "/api/v1/auctions/"+id+"/cancel", "", "")
	check.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuctionHandler_CreateValidation(t *testing.T) {
	e, _ := newAuctionServer(t)

	rec, _ := doJSON(t, e, http.MethodPost, "/api/v1/auctions", "", `{}`)
	check.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := doJSON(t, e, http.MethodPost, "/api/v1/auctions", "seller", `{"starting_price":"0","min_bid_increment":"10"}`)
	check.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	check.Equal(t, "validation failed", body["kind"])

	rec, _ = doJSON(t, e, http.MethodGet, "/api/v1/auctions/missing", "", "")
	check.Equal(t, http.StatusNotFound, rec.Code)
}
