package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const DBTxKey contextKey = "db_tx"

var errNoConn = errors.New("no database connection in context")

// TxFromContext retrieves the active transaction from context.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection held in ctx and
// returns a context carrying it. When ctx already carries a transaction a
// savepoint is opened instead.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	if outer := TxFromContext(ctx); outer != nil {
		tx, err := outer.Begin(ctx)
		if err != nil {
			return ctx, nil, err
		}
		return context.WithValue(ctx, DBTxKey, tx), tx, nil
	}

	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errNoConn
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// InTx runs fn in a transaction and commits when fn succeeds.
func InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, tx, err := WithTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(txCtx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
