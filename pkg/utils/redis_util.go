package utils

import (
	"context"
	"fmt"

	"marketplace-bidding/internal/config"

	"github.com/go-redis/redis/v8"
)

// InitializeRedis builds the client and checks the server answers.
func InitializeRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Address, err)
	}
	return rdb, nil
}
