package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/patronhq/payment-service/internal/domain"
)

// RateSource fetches the USD exchange rate for a currency. Rates feed
// the reporting shadow fields only; providers do the real conversion.
type RateSource interface {
	// USDRate returns how many units of currency one USD buys.
	USDRate(ctx context.Context, currency string) (decimal.Decimal, time.Time, error)
}

// Notification is an outbound message the platform owes a user.
// Rendering and transport are external; the core only decides when one
// is due and guards idempotency.
type Notification struct {
	UserID         string
	SubscriptionID string
	Type           string
	Subject        string
	Data           map[string]interface{}
}

// Notifier delivers notifications. Implementations live outside the
// core; tests and development use a logging notifier.
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
}

// Alerter raises operator alerts (stuck transfers, dead letters,
// reconciliation discrepancies).
type Alerter interface {
	Alert(ctx context.Context, topic, message string, fields map[string]interface{}) error
}

// DedupeStore is the short-TTL checkout dedupe. Remember atomically
// claims key with value unless one is already present, returning the
// previously stored value when the key already exists. Store overwrites
// the value without touching the claim; Forget releases the key so a
// failed attempt does not block the payer for the full TTL.
type DedupeStore interface {
	Remember(ctx context.Context, key, value string, ttl time.Duration) (existing string, dup bool, err error)
	Store(ctx context.Context, key, value string, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

// EventQueue hands webhook events to async workers. When unavailable,
// ingestion processes inline in the request; ingestion has no hard
// Redis dependency.
type EventQueue interface {
	Enqueue(ctx context.Context, eventID string) error
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Available() bool
}

// JobHealthStore records scheduler run outcomes with a 30-day TTL.
type JobRunRecord struct {
	Name       string
	LastRunAt  time.Time
	DurationMS int64
	Success    bool
}

type JobHealthStore interface {
	RecordRun(ctx context.Context, rec *JobRunRecord) error
	LastRuns(ctx context.Context, names []string) (map[string]*JobRunRecord, error)
}

// BalanceCache stores provider balances refreshed by the sync job.
type BalanceCache interface {
	SetBalance(ctx context.Context, creatorID string, provider domain.Provider, amountCents int64, currency string) error
	GetBalance(ctx context.Context, creatorID string, provider domain.Provider) (int64, string, error)
}

// SecretSource resolves provider API keys at startup. Local env and
// AWS Secrets Manager implementations exist.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}
