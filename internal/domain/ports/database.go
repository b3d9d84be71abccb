package ports

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the common surface of a pool and a transaction; repositories
// accept it so the same query code runs inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DBPort provides transaction management. Writes that compose multiple
// rows (payment + subscription + activity) run inside one transaction
// per provider event.
type DBPort interface {
	GetDB() *pgxpool.Pool
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}
