package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type txContextKey struct{}

// Querier is the query surface shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx returns a context carrying tx. A nil tx leaves ctx unchanged.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the transaction stored with WithTx.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx, ok
}

// QuerierFromContext returns the transaction in ctx, or fallback when there
// is none, so storage code joins the caller's transaction.
func QuerierFromContext(ctx context.Context, fallback Querier) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return fallback
}
