package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// NotificationLogRepository is the unique (subscription, type) send log.
type NotificationLogRepository struct {
	db ports.DBTX
}

// NewNotificationLogRepository creates a new notification log repository
func NewNotificationLogRepository(db ports.DBPort) *NotificationLogRepository {
	return &NotificationLogRepository{db: db.GetDB()}
}

// Record claims the (subscription, type) key. A duplicate claim returns
// domain.ErrAlreadyProcessed so the caller skips the send.
func (r *NotificationLogRepository) Record(ctx context.Context, tx ports.DBTX, subscriptionID, notificationType string) error {
	q := queryer(tx, r.db)
	_, err := q.Exec(ctx, `
		INSERT INTO notification_logs (id, subscription_id, type, sent_at)
		VALUES ($1, $2, $3, now())`,
		uuid.NewString(), subscriptionID, notificationType)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "notification already sent").
				WithDetail("notification_type", notificationType)
		}
		return domain.WrapError(domain.ErrorCodeDatabaseError, "record notification", err)
	}
	return nil
}

// Exists reports whether the notification was already sent.
func (r *NotificationLogRepository) Exists(ctx context.Context, tx ports.DBTX, subscriptionID, notificationType string) (bool, error) {
	q := queryer(tx, r.db)
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notification_logs WHERE subscription_id = $1 AND type = $2
		)`, subscriptionID, notificationType).Scan(&exists)
	if err != nil {
		return false, domain.WrapError(domain.ErrorCodeDatabaseError, "check notification", err)
	}
	return exists, nil
}
