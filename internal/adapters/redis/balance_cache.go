package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/patronhq/payment-service/internal/domain"
)

const (
	balancePrefix = "balance:"
	balanceTTL    = 2 * time.Hour
)

type cachedBalance struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// BalanceCache stores provider balances refreshed by the sync job, so
// dashboards read the cache instead of hitting provider APIs.
type BalanceCache struct {
	client *redis.Client
}

// NewBalanceCache creates a Redis-backed balance cache.
func NewBalanceCache(client *redis.Client) *BalanceCache {
	return &BalanceCache{client: client}
}

func balanceKey(creatorID string, provider domain.Provider) string {
	return balancePrefix + creatorID + ":" + string(provider)
}

// SetBalance stores the latest known balance for a creator's provider.
func (c *BalanceCache) SetBalance(ctx context.Context, creatorID string, provider domain.Provider, amountCents int64, currency string) error {
	payload, err := json.Marshal(cachedBalance{AmountCents: amountCents, Currency: currency})
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "marshal balance", err)
	}
	if err := c.client.Set(ctx, balanceKey(creatorID, provider), payload, balanceTTL).Err(); err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "set balance", err)
	}
	return nil
}

// GetBalance reads the cached balance; an expired or never-synced entry
// surfaces as not found.
func (c *BalanceCache) GetBalance(ctx context.Context, creatorID string, provider domain.Provider) (int64, string, error) {
	raw, err := c.client.Get(ctx, balanceKey(creatorID, provider)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, "", domain.NewDomainError(domain.ErrorCodeEventNotFound, "balance not cached")
		}
		return 0, "", domain.WrapError(domain.ErrorCodeInternalError, "get balance", err)
	}
	var b cachedBalance
	if err := json.Unmarshal(raw, &b); err != nil {
		return 0, "", domain.WrapError(domain.ErrorCodeInternalError, "unmarshal balance", err)
	}
	return b.AmountCents, b.Currency, nil
}
