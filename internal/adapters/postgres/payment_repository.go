package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// PaymentRepository implements ports.PaymentRepository with pgx.
// Payments are append-only; the single UPDATE here only ever moves the
// status column of an original row after a reversal.
type PaymentRepository struct {
	db ports.DBTX
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{db: db.GetDB()}
}

const paymentColumns = `
	id, subscription_id, creator_id, subscriber_id, amount_cents, currency,
	gross_cents, fee_cents, net_cents, creator_fee_cents, subscriber_fee_cents,
	fee_model, type, status, refunded_cents, provider_event_id, provider_ref,
	transfer_code,
	reporting_currency, reporting_gross_cents, reporting_fee_cents,
	reporting_net_cents, reporting_exchange_rate, reporting_rate_source,
	reporting_rate_timestamp, reporting_is_estimated, metadata,
	occurred_at, created_at`

// Create inserts a payment row. The unique index on provider_event_id
// turns replays into domain.ErrConflict, which the applier treats as
// already-done.
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, p *domain.Payment) error {
	q := queryer(tx, r.db)

	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "marshal payment metadata", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
		        $18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)`,
		p.ID, p.SubscriptionID, p.CreatorID, p.SubscriberID, p.AmountCents, p.Currency,
		p.GrossCents, p.FeeCents, p.NetCents, p.CreatorFeeCents, p.SubscriberFeeCents,
		string(p.FeeModel), string(p.Type), string(p.Status), p.RefundedCents,
		p.ProviderEventID, p.ProviderRef, stringPtr(p.TransferCode),
		p.Reporting.Currency, p.Reporting.GrossCents, p.Reporting.FeeCents,
		p.Reporting.NetCents, p.Reporting.ExchangeRate.String(),
		string(p.Reporting.RateSource), p.Reporting.RateTimestamp,
		p.Reporting.IsEstimated, metadata, p.OccurredAt, p.CreatedAt,
	)
	if err != nil {
		return conflictOr(err, "create payment")
	}
	return nil
}

// GetByID retrieves a payment by its ID
func (r *PaymentRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Payment, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByProviderRef locates the original payment for a charge reference.
// Refund and dispute events resolve their original through this.
func (r *PaymentRepository) GetByProviderRef(ctx context.Context, tx ports.DBTX, provider domain.Provider, ref string) (*domain.Payment, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE provider_ref = $1 AND amount_cents > 0 AND type IN ('recurring','one_time')
		ORDER BY created_at ASC LIMIT 1`, ref)
	return scanPayment(row)
}

// GetByTransferCode locates a payout by its provider transfer code.
func (r *PaymentRepository) GetByTransferCode(ctx context.Context, tx ports.DBTX, code string) (*domain.Payment, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE transfer_code = $1 AND type = 'payout' LIMIT 1`, code)
	return scanPayment(row)
}

// UpdateStatus moves the status, refund counter and, for payouts, the
// transfer code and occurred_at of an existing row.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, p *domain.Payment) error {
	q := queryer(tx, r.db)
	_, err := q.Exec(ctx, `
		UPDATE payments SET status = $2, refunded_cents = $3, transfer_code = $4, occurred_at = $5
		WHERE id = $1`,
		p.ID, string(p.Status), p.RefundedCents, stringPtr(p.TransferCode), p.OccurredAt)
	if err != nil {
		return conflictOr(err, "update payment status")
	}
	return nil
}

// ListPayoutsInStatus returns payouts in the given status, oldest
// first. The transfers monitor reads otp_pending through this.
func (r *PaymentRepository) ListPayoutsInStatus(ctx context.Context, tx ports.DBTX, status domain.PaymentStatus) ([]*domain.Payment, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE type = 'payout' AND status = $1
		ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list payouts", err)
	}
	return scanPayments(rows)
}

// ListRecentPayouts returns the most recent payout attempts for the
// failure-rate calculation.
func (r *PaymentRepository) ListRecentPayouts(ctx context.Context, tx ports.DBTX, limit int32) ([]*domain.Payment, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE type = 'payout' AND status IN ('succeeded','failed')
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list recent payouts", err)
	}
	return scanPayments(rows)
}

// SumNetSinceLastPayout totals settled creator-net since the creator's
// last payout row, in the creator's currency.
func (r *PaymentRepository) SumNetSinceLastPayout(ctx context.Context, tx ports.DBTX, creatorID string) (int64, string, error) {
	q := queryer(tx, r.db)
	var total int64
	var currency string
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(net_cents), 0), COALESCE(MAX(currency), '')
		FROM payments
		WHERE creator_id = $1
		  AND type IN ('recurring','one_time')
		  AND status IN ('succeeded','refunded','dispute_won')
		  AND occurred_at > COALESCE(
			(SELECT MAX(occurred_at) FROM payments
			 WHERE creator_id = $1 AND type = 'payout' AND status = 'succeeded'),
			'epoch'::timestamptz)`,
		creatorID).Scan(&total, &currency)
	if err != nil {
		return 0, "", domain.WrapError(domain.ErrorCodeDatabaseError, "sum net since last payout", err)
	}
	return total, currency, nil
}

// AggregateDaily upserts the stats_daily snapshot for one day.
func (r *PaymentRepository) AggregateDaily(ctx context.Context, tx ports.DBTX, day time.Time) error {
	q := queryer(tx, r.db)
	_, err := q.Exec(ctx, `
		INSERT INTO stats_daily (day, creator_id, payment_count, gross_cents, net_cents, reporting_net_cents)
		SELECT $1::date, creator_id, COUNT(*), SUM(gross_cents), SUM(net_cents), SUM(reporting_net_cents)
		FROM payments
		WHERE type IN ('recurring','one_time')
		  AND occurred_at >= $1::date AND occurred_at < $1::date + interval '1 day'
		GROUP BY creator_id
		ON CONFLICT (day, creator_id) DO UPDATE SET
			payment_count = EXCLUDED.payment_count,
			gross_cents = EXCLUDED.gross_cents,
			net_cents = EXCLUDED.net_cents,
			reporting_net_cents = EXCLUDED.reporting_net_cents`,
		day)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "aggregate daily stats", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var feeModel, pType, status, rateSource string
	var transferCode *string
	var rate string
	var metadata []byte

	err := row.Scan(
		&p.ID, &p.SubscriptionID, &p.CreatorID, &p.SubscriberID, &p.AmountCents, &p.Currency,
		&p.GrossCents, &p.FeeCents, &p.NetCents, &p.CreatorFeeCents, &p.SubscriberFeeCents,
		&feeModel, &pType, &status, &p.RefundedCents, &p.ProviderEventID, &p.ProviderRef, &transferCode,
		&p.Reporting.Currency, &p.Reporting.GrossCents, &p.Reporting.FeeCents,
		&p.Reporting.NetCents, &rate, &rateSource, &p.Reporting.RateTimestamp,
		&p.Reporting.IsEstimated, &metadata, &p.OccurredAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan payment", err)
	}

	p.FeeModel = domain.FeeModel(feeModel)
	p.Type = domain.PaymentType(pType)
	p.Status = domain.PaymentStatus(status)
	p.Reporting.RateSource = domain.RateSource(rateSource)
	if transferCode != nil {
		p.TransferCode = *transferCode
	}
	if p.Reporting.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "parse exchange rate", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "unmarshal payment metadata", err)
		}
	}
	return &p, nil
}

func scanPayments(rows pgx.Rows) ([]*domain.Payment, error) {
	defer rows.Close()
	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "iterate payments", err)
	}
	return payments, nil
}
