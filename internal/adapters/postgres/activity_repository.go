package postgres

import (
	"context"
	"encoding/json"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// ActivityRepository appends to the append-only activity log.
type ActivityRepository struct {
	db ports.DBTX
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db ports.DBPort) *ActivityRepository {
	return &ActivityRepository{db: db.GetDB()}
}

// Append writes one activity row. Called inside the same transaction as
// the financial write it describes.
func (r *ActivityRepository) Append(ctx context.Context, tx ports.DBTX, activity *domain.Activity) error {
	q := queryer(tx, r.db)

	payload, err := json.Marshal(activity.Payload)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "marshal activity payload", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO activities (id, user_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		activity.ID, activity.UserID, activity.Type, payload, activity.CreatedAt)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "append activity", err)
	}
	return nil
}
