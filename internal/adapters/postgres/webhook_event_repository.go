package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// WebhookEventRepository is the durable event-dedup store, keyed by the
// provider event id (or the composed key for providers whose transfer
// events reuse a reference).
type WebhookEventRepository struct {
	db ports.DBTX
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db ports.DBPort) *WebhookEventRepository {
	return &WebhookEventRepository{db: db.GetDB()}
}

const webhookEventColumns = `
	id, provider, event_id, event_type, status, retry_count, payment_id,
	payload, last_error, processed_at, created_at, updated_at`

// Upsert inserts the event row, or on a duplicate key increments its
// retry counter. The returned bool is true only for the first arrival;
// redeliveries and retries see created=false and the stored status.
func (r *WebhookEventRepository) Upsert(ctx context.Context, tx ports.DBTX, event *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `
		INSERT INTO webhook_events (id, provider, event_id, event_type, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'received', $5, now(), now())
		ON CONFLICT (event_id) DO UPDATE SET
			retry_count = webhook_events.retry_count + 1,
			updated_at = now()
		RETURNING `+webhookEventColumns+`, (xmax = 0) AS inserted`,
		event.ID, string(event.Provider), event.EventID, event.EventType, event.Payload)

	stored, inserted, err := scanWebhookEventWithFlag(row)
	if err != nil {
		return nil, false, err
	}
	return stored, inserted, nil
}

// GetByEventID retrieves an event by its durable event key.
func (r *WebhookEventRepository) GetByEventID(ctx context.Context, tx ports.DBTX, provider domain.Provider, eventID string) (*domain.WebhookEvent, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE provider = $1 AND event_id = $2`, string(provider), eventID)
	return scanWebhookEvent(row)
}

// MarkProcessed records successful application of the event.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, tx ports.DBTX, eventID string, paymentID *string) error {
	return r.finish(ctx, tx, eventID, domain.WebhookStatusProcessed, paymentID)
}

// MarkSkipped records an event that was a no-op (duplicate or stale).
func (r *WebhookEventRepository) MarkSkipped(ctx context.Context, tx ports.DBTX, eventID string, paymentID *string) error {
	return r.finish(ctx, tx, eventID, domain.WebhookStatusSkipped, paymentID)
}

func (r *WebhookEventRepository) finish(ctx context.Context, tx ports.DBTX, eventID string, status domain.WebhookEventStatus, paymentID *string) error {
	q := queryer(tx, r.db)
	_, err := q.Exec(ctx, `
		UPDATE webhook_events SET
			status = $2, payment_id = COALESCE($3, payment_id),
			last_error = NULL, processed_at = now(), updated_at = now()
		WHERE event_id = $1`,
		eventID, string(status), paymentID)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "finish webhook event", err)
	}
	return nil
}

// MarkFailed records a failed attempt and counts it against the retry
// budget; deadLetter parks the event for operator review instead of
// leaving it retryable.
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, tx ports.DBTX, eventID string, reason string, deadLetter bool) error {
	q := queryer(tx, r.db)
	status := domain.WebhookStatusFailed
	if deadLetter {
		status = domain.WebhookStatusDeadLetter
	}
	_, err := q.Exec(ctx, `
		UPDATE webhook_events SET
			status = $2, last_error = $3,
			retry_count = retry_count + 1, updated_at = now()
		WHERE event_id = $1`,
		eventID, string(status), reason)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "mark webhook event failed", err)
	}
	return nil
}

// ListRetryable returns failed events still inside the retry budget,
// stalest first, for the retry scheduler.
func (r *WebhookEventRepository) ListRetryable(ctx context.Context, tx ports.DBTX, limit int32) ([]*domain.WebhookEvent, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status = 'failed' AND retry_count < $1
		ORDER BY updated_at ASC LIMIT $2`, domain.MaxWebhookAttempts, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list retryable events", err)
	}
	defer rows.Close()

	var events []*domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "iterate webhook events", err)
	}
	return events, nil
}

// ListDeadLetters returns parked events, oldest first.
func (r *WebhookEventRepository) ListDeadLetters(ctx context.Context, tx ports.DBTX, limit int32) ([]*domain.WebhookEvent, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status = 'dead_letter'
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list dead letters", err)
	}
	defer rows.Close()

	var events []*domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "iterate webhook events", err)
	}
	return events, nil
}

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var provider, status string

	err := row.Scan(
		&e.ID, &provider, &e.EventID, &e.EventType, &status, &e.RetryCount,
		&e.PaymentID, &e.Payload, &e.LastError, &e.ProcessedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan webhook event", err)
	}
	e.Provider = domain.Provider(provider)
	e.Status = domain.WebhookEventStatus(status)
	return &e, nil
}

func scanWebhookEventWithFlag(row pgx.Row) (*domain.WebhookEvent, bool, error) {
	var e domain.WebhookEvent
	var provider, status string
	var inserted bool

	err := row.Scan(
		&e.ID, &provider, &e.EventID, &e.EventType, &status, &e.RetryCount,
		&e.PaymentID, &e.Payload, &e.LastError, &e.ProcessedAt, &e.CreatedAt, &e.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrorCodeDatabaseError, "upsert webhook event", err)
	}
	e.Provider = domain.Provider(provider)
	e.Status = domain.WebhookEventStatus(status)
	return &e, inserted, nil
}
