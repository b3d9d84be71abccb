package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// uniqueViolation is PostgreSQL's error code for unique constraint hits.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint failure,
// which the callers translate into domain conflicts (idempotence).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// conflictOr translates unique violations into domain.ErrConflict and
// wraps everything else as a database error.
func conflictOr(err error, op string) error {
	if isUniqueViolation(err) {
		return domain.NewDomainError(domain.ErrorCodeConflict, "conflicting write").WithDetail("op", op)
	}
	return domain.WrapError(domain.ErrorCodeDatabaseError, op, err)
}

// queryer picks the transaction when present, else the pool.
func queryer(db ports.DBTX, fallback ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return fallback
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
