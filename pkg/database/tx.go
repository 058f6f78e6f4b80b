package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// TxOptions tunes a unit of work started by InTx.
type TxOptions struct {
	// LockTimeout bounds how long any statement waits for a row lock.
	// Zero keeps the server default.
	LockTimeout time.Duration
	// Timeout bounds the whole transaction. Zero means no extra deadline.
	Timeout time.Duration
}

// InTx runs fn inside a transaction carried by the returned context.
// Repositories pick the transaction up through Querier, so every statement
// issued by fn commits or rolls back together.
//
// Nested calls join the outer transaction; only the outermost call commits.
func (db *DB) InTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	if db.getTx(ctx) != nil {
		return fn(ctx)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if opts.LockTimeout > 0 {
			// SET LOCAL takes no bind parameters; the value is an integer we format.
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return MapError(fmt.Errorf("failed to set lock_timeout: %w", err))
			}
		}

		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// Querier returns the transaction bound to ctx, or the pool when there is none.
func (db *DB) Querier(ctx context.Context) sqlx.ExtContext {
	if tx := db.getTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// getTx extracts transaction from context if present
func (db *DB) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
