package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ricirt/docqueue/internal/config"
)

// ConnectRedis creates a Redis client from REDIS_URL and verifies connectivity.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
