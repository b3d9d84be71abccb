package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// SubscriberRepository implements ports.SubscriberRepository with pgx.
type SubscriberRepository struct {
	db ports.DBTX
}

// NewSubscriberRepository creates a new subscriber repository
func NewSubscriberRepository(db ports.DBPort) *SubscriberRepository {
	return &SubscriberRepository{db: db.GetDB()}
}

const subscriberColumns = `
	id, email, dispute_count, blocked_reason, created_at, updated_at`

// GetByID retrieves a subscriber by its ID
func (r *SubscriberRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Subscriber, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
	return scanSubscriber(row)
}

// GetOrCreateByEmail resolves a subscriber by normalized email,
// creating the row on first contact. Concurrent first-contact races
// resolve through the unique email index and a re-read.
func (r *SubscriberRepository) GetOrCreateByEmail(ctx context.Context, tx ports.DBTX, email string) (*domain.Subscriber, error) {
	q := queryer(tx, r.db)
	normalized := strings.ToLower(strings.TrimSpace(email))

	row := q.QueryRow(ctx, `
		INSERT INTO subscribers (id, email, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (email) DO UPDATE SET updated_at = subscribers.updated_at
		RETURNING `+subscriberColumns,
		uuid.NewString(), normalized)
	return scanSubscriber(row)
}

// IncrementDisputeCount bumps the lifetime dispute counter.
func (r *SubscriberRepository) IncrementDisputeCount(ctx context.Context, tx ports.DBTX, id string) error {
	q := queryer(tx, r.db)
	_, err := q.Exec(ctx, `
		UPDATE subscribers SET dispute_count = dispute_count + 1, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "increment dispute count", err)
	}
	return nil
}

// SetBlockedReason sets or clears (nil) the checkout block.
func (r *SubscriberRepository) SetBlockedReason(ctx context.Context, tx ports.DBTX, id string, reason *string) error {
	q := queryer(tx, r.db)
	_, err := q.Exec(ctx, `
		UPDATE subscribers SET blocked_reason = $2, updated_at = now()
		WHERE id = $1`, id, reason)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "set blocked reason", err)
	}
	return nil
}

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var s domain.Subscriber
	err := row.Scan(&s.ID, &s.Email, &s.DisputeCount, &s.BlockedReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriberNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan subscriber", err)
	}
	return &s, nil
}
