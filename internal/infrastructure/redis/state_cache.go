package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"marketplace-bidding/internal/domain"

	"github.com/go-redis/redis/v8"
)

// RedisStateCache mirrors auction status for the websocket layer. It is a
// hint only; bids are always validated against the store.
type RedisStateCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStateCache(client *redis.Client, ttl time.Duration) *RedisStateCache {
	return &RedisStateCache{client: client, ttl: ttl}
}

func statusKey(auctionID string) string {
	return fmt.Sprintf("bidding:auction:%s:status", auctionID)
}

func (r *RedisStateCache) SetAuctionStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	return r.client.Set(ctx, statusKey(auctionID), int(status), r.ttl).Err()
}

// GetAuctionStatus returns domain.ErrNotFound on a cache miss.
func (r *RedisStateCache) GetAuctionStatus(ctx context.Context, auctionID string) (domain.AuctionStatus, error) {
	result, err := r.client.Get(ctx, statusKey(auctionID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.AuctionPending, domain.ErrNotFound
	}
	if err != nil {
		return domain.AuctionPending, err
	}

	raw, err := strconv.Atoi(result)
	status := domain.AuctionStatus(raw)
	if err != nil || status.String() == "unknown" {
		return domain.AuctionPending, fmt.Errorf("bad cached status %q for auction %s", result, auctionID)
	}
	return status, nil
}
