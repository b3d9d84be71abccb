package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/patronhq/payment-service/internal/config"
)

// NewClient connects to Redis from configuration and verifies
// connectivity. Callers treat a nil client as "Redis unavailable" and
// degrade: locks fail open per call site policy, the queue reports
// unavailable, dedupe is skipped.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
