package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// SubscriptionRepository implements ports.SubscriptionRepository with pgx.
type SubscriptionRepository struct {
	db ports.DBTX
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db ports.DBPort) *SubscriptionRepository {
	return &SubscriptionRepository{db: db.GetDB()}
}

const subscriptionColumns = `
	id, creator_id, subscriber_id, amount_cents, currency, interval,
	status, fee_model, fee_mode, stripe_subscription_id, stripe_customer_id,
	paystack_authorization, current_period_end, cancel_at_period_end,
	canceled_at, cancel_reason, ltv_cents, manage_token_nonce,
	failure_retry_count, created_at, updated_at`

// Create inserts a subscription. A unique partial index over
// (creator_id, subscriber_id, interval) WHERE status <> 'canceled'
// enforces the one-active-subscription rule; violations surface as
// domain.ErrConflict.
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	q := queryer(tx, r.db)
	_, err := q.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		sub.ID, sub.CreatorID, sub.SubscriberID, sub.AmountCents, sub.Currency,
		string(sub.Interval), string(sub.Status), string(sub.FeeModel), string(sub.FeeMode),
		nullableString(sub.StripeSubscriptionID), nullableString(sub.StripeCustomerID),
		nullableString(sub.PaystackAuthorization), sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, string(sub.CancelReason),
		sub.LTVCents, sub.ManageTokenNonce, sub.FailureRetryCount,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return conflictOr(err, "create subscription")
	}
	return nil
}

// GetByID retrieves a subscription by its ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Subscription, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

// GetByStripeSubscription looks up by the provider-side subscription id.
func (r *SubscriptionRepository) GetByStripeSubscription(ctx context.Context, tx ports.DBTX, stripeSubID string) (*domain.Subscription, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`, stripeSubID)
	return scanSubscription(row)
}

// GetByParties resolves the unique non-canceled subscription for a
// (creator, subscriber, interval) tuple.
func (r *SubscriptionRepository) GetByParties(ctx context.Context, tx ports.DBTX, creatorID, subscriberID string, interval domain.Interval) (*domain.Subscription, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE creator_id = $1 AND subscriber_id = $2 AND interval = $3 AND status <> 'canceled'
		ORDER BY created_at DESC LIMIT 1`,
		creatorID, subscriberID, string(interval))
	return scanSubscription(row)
}

// Update persists mutated subscription fields.
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	q := queryer(tx, r.db)
	_, err := q.Exec(ctx, `
		UPDATE subscriptions SET
			amount_cents = $2, currency = $3, status = $4,
			stripe_subscription_id = $5, stripe_customer_id = $6,
			paystack_authorization = $7, current_period_end = $8,
			cancel_at_period_end = $9, canceled_at = $10, cancel_reason = $11,
			ltv_cents = $12, manage_token_nonce = $13, failure_retry_count = $14,
			updated_at = now()
		WHERE id = $1`,
		sub.ID, sub.AmountCents, sub.Currency, string(sub.Status),
		nullableString(sub.StripeSubscriptionID), nullableString(sub.StripeCustomerID),
		nullableString(sub.PaystackAuthorization), sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, string(sub.CancelReason),
		sub.LTVCents, sub.ManageTokenNonce, sub.FailureRetryCount,
	)
	if err != nil {
		return conflictOr(err, "update subscription")
	}
	return nil
}

// ListDueForBilling returns active subscriptions whose period has
// lapsed, ordered oldest first. The billing job charges these.
func (r *SubscriptionRepository) ListDueForBilling(ctx context.Context, tx ports.DBTX, asOf time.Time, limit int32) ([]*domain.Subscription, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND interval = 'month' AND current_period_end <= $1
		ORDER BY current_period_end ASC LIMIT $2`,
		asOf, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list due for billing", err)
	}
	return scanSubscriptions(rows)
}

// ListPastDue returns past_due subscriptions for the retry job.
func (r *SubscriptionRepository) ListPastDue(ctx context.Context, tx ports.DBTX, limit int32) ([]*domain.Subscription, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'past_due'
		ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list past due", err)
	}
	return scanSubscriptions(rows)
}

// ListRenewingWithin returns active monthly subscriptions renewing in
// the window, for the reminders job.
func (r *SubscriptionRepository) ListRenewingWithin(ctx context.Context, tx ports.DBTX, from, to time.Time) ([]*domain.Subscription, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND interval = 'month'
		  AND current_period_end > $1 AND current_period_end <= $2`,
		from, to)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list renewing", err)
	}
	return scanSubscriptions(rows)
}

// ListStalePending returns pending subscriptions older than the cutoff;
// the cleanup sweeper cancels them.
func (r *SubscriptionRepository) ListStalePending(ctx context.Context, tx ports.DBTX, olderThan time.Time) ([]*domain.Subscription, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'pending' AND created_at < $1`, olderThan)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list stale pending", err)
	}
	return scanSubscriptions(rows)
}

// ListCanceledSince returns subscriptions canceled in the trailing
// window, for the cancellation email job.
func (r *SubscriptionRepository) ListCanceledSince(ctx context.Context, tx ports.DBTX, since time.Time) ([]*domain.Subscription, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'canceled' AND canceled_at >= $1`, since)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list canceled since", err)
	}
	return scanSubscriptions(rows)
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var interval, status, feeModel, feeMode, cancelReason string
	var stripeSubID, stripeCustomerID, paystackAuth *string

	err := row.Scan(
		&sub.ID, &sub.CreatorID, &sub.SubscriberID, &sub.AmountCents, &sub.Currency,
		&interval, &status, &feeModel, &feeMode, &stripeSubID, &stripeCustomerID,
		&paystackAuth, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.CanceledAt, &cancelReason, &sub.LTVCents, &sub.ManageTokenNonce,
		&sub.FailureRetryCount, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan subscription", err)
	}

	sub.Interval = domain.Interval(interval)
	sub.Status = domain.SubscriptionStatus(status)
	sub.FeeModel = domain.FeeModel(feeModel)
	sub.FeeMode = domain.FeeMode(feeMode)
	sub.CancelReason = domain.CancelReason(cancelReason)
	sub.StripeSubscriptionID = stripeSubID
	sub.StripeCustomerID = stripeCustomerID
	sub.PaystackAuthorization = paystackAuth
	return &sub, nil
}

func scanSubscriptions(rows pgx.Rows) ([]*domain.Subscription, error) {
	defer rows.Close()
	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "iterate subscriptions", err)
	}
	return subs, nil
}
