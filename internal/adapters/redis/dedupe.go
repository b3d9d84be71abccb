package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/patronhq/payment-service/internal/domain"
)

// DedupeStore implements the short-TTL checkout dedupe over Redis.
// A repeated checkout within the TTL returns the original session URL
// instead of creating a second provider session.
type DedupeStore struct {
	client *redis.Client
}

// NewDedupeStore creates a Redis-backed dedupe store.
func NewDedupeStore(client *redis.Client) *DedupeStore {
	return &DedupeStore{client: client}
}

// Remember stores value under key unless one is already present. On a
// hit it returns the stored value and dup=true without refreshing the TTL.
func (d *DedupeStore) Remember(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	ok, err := d.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return "", false, domain.WrapError(domain.ErrorCodeInternalError, "dedupe set", err)
	}
	if ok {
		return value, false, nil
	}

	existing, err := d.client.Get(ctx, key).Result()
	if err != nil {
		// The key expired between SETNX and GET; treat as a miss.
		if errors.Is(err, redis.Nil) {
			return value, false, nil
		}
		return "", false, domain.WrapError(domain.ErrorCodeInternalError, "dedupe get", err)
	}
	return existing, true, nil
}

// Store overwrites the value under an already-claimed key.
func (d *DedupeStore) Store(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := d.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "dedupe store", err)
	}
	return nil
}

// Forget releases a claimed key.
func (d *DedupeStore) Forget(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "dedupe forget", err)
	}
	return nil
}
