package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetya/stockguard/internal/tx"
)

// Runner implements tx.Runner over pgx transactions.
type Runner struct{ DB *pgxpool.Pool }

var _ tx.Runner = (*Runner)(nil)

func (r *Runner) WithTransaction(ctx context.Context, opts tx.Options, fn func(ctx context.Context, h tx.Handle) error) error {
	return tx.WithRetry(ctx, opts, Retryable, func(ctx context.Context) error {
		t, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = t.Rollback(ctx) }()
		if err := fn(ctx, tx.Handle(t)); err != nil {
			return err
		}
		return t.Commit(ctx)
	})
}

// Retryable classifies transient conflicts worth another attempt:
// serialization failure, deadlock, lock-not-available.
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

// dbtx is the subset shared by *pgxpool.Pool and pgx.Tx: operations run on
// the transaction when a handle is present, autocommit otherwise.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func on(pool *pgxpool.Pool, h tx.Handle) dbtx {
	if t, ok := h.(pgx.Tx); ok {
		return t
	}
	return pool
}
