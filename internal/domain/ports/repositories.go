package ports

import (
	"context"
	"time"

	"github.com/patronhq/payment-service/internal/domain"
)

// CreatorRepository loads and mutates creator records.
type CreatorRepository interface {
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Creator, error)
	GetByStripeAccount(ctx context.Context, tx DBTX, accountID string) (*domain.Creator, error)
	Update(ctx context.Context, tx DBTX, creator *domain.Creator) error
	ListPayoutCandidates(ctx context.Context, tx DBTX, purpose domain.CreatorPurpose) ([]*domain.Creator, error)
}

// SubscriberRepository loads and creates subscribers keyed by email.
type SubscriberRepository interface {
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Subscriber, error)
	GetOrCreateByEmail(ctx context.Context, tx DBTX, email string) (*domain.Subscriber, error)
	IncrementDisputeCount(ctx context.Context, tx DBTX, id string) error
	SetBlockedReason(ctx context.Context, tx DBTX, id string, reason *string) error
}

// SubscriptionRepository persists subscriptions and their FSM state.
type SubscriptionRepository interface {
	Create(ctx context.Context, tx DBTX, sub *domain.Subscription) error
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Subscription, error)
	GetByStripeSubscription(ctx context.Context, tx DBTX, stripeSubID string) (*domain.Subscription, error)
	GetByParties(ctx context.Context, tx DBTX, creatorID, subscriberID string, interval domain.Interval) (*domain.Subscription, error)
	Update(ctx context.Context, tx DBTX, sub *domain.Subscription) error
	ListDueForBilling(ctx context.Context, tx DBTX, asOf time.Time, limit int32) ([]*domain.Subscription, error)
	ListPastDue(ctx context.Context, tx DBTX, limit int32) ([]*domain.Subscription, error)
	ListRenewingWithin(ctx context.Context, tx DBTX, from, to time.Time) ([]*domain.Subscription, error)
	ListStalePending(ctx context.Context, tx DBTX, olderThan time.Time) ([]*domain.Subscription, error)
	ListCanceledSince(ctx context.Context, tx DBTX, since time.Time) ([]*domain.Subscription, error)
}

// PaymentRepository persists payments. Payments are append-only; Update
// only ever moves the status of an original row after a reversal.
type PaymentRepository interface {
	Create(ctx context.Context, tx DBTX, payment *domain.Payment) error
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Payment, error)
	GetByProviderRef(ctx context.Context, tx DBTX, provider domain.Provider, ref string) (*domain.Payment, error)
	GetByTransferCode(ctx context.Context, tx DBTX, code string) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, tx DBTX, payment *domain.Payment) error
	ListPayoutsInStatus(ctx context.Context, tx DBTX, status domain.PaymentStatus) ([]*domain.Payment, error)
	ListRecentPayouts(ctx context.Context, tx DBTX, limit int32) ([]*domain.Payment, error)
	SumNetSinceLastPayout(ctx context.Context, tx DBTX, creatorID string) (int64, string, error)
	AggregateDaily(ctx context.Context, tx DBTX, day time.Time) error
}

// WebhookEventRepository is the durable event-dedup store.
type WebhookEventRepository interface {
	// Upsert inserts by event key or, on duplicate, increments
	// retryCount. It returns the stored row and whether it was created
	// by this call.
	Upsert(ctx context.Context, tx DBTX, event *domain.WebhookEvent) (*domain.WebhookEvent, bool, error)
	GetByEventID(ctx context.Context, tx DBTX, provider domain.Provider, eventID string) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, tx DBTX, eventID string, paymentID *string) error
	MarkSkipped(ctx context.Context, tx DBTX, eventID string, paymentID *string) error
	MarkFailed(ctx context.Context, tx DBTX, eventID string, reason string, deadLetter bool) error
	ListRetryable(ctx context.Context, tx DBTX, limit int32) ([]*domain.WebhookEvent, error)
	ListDeadLetters(ctx context.Context, tx DBTX, limit int32) ([]*domain.WebhookEvent, error)
}

// ActivityRepository appends to the activity log.
type ActivityRepository interface {
	Append(ctx context.Context, tx DBTX, activity *domain.Activity) error
}

// NotificationLogRepository is the unique (subscription, type)
// idempotency log for outbound notifications. Record returns
// domain.ErrAlreadyProcessed on a duplicate key.
type NotificationLogRepository interface {
	Record(ctx context.Context, tx DBTX, subscriptionID, notificationType string) error
	Exists(ctx context.Context, tx DBTX, subscriptionID, notificationType string) (bool, error)
}
