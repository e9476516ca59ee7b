package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBTxKey carries the active transaction through a unit of work. Repositories
// resolve it via TxFromContext so every read and write inside the unit runs on
// the same transaction.
const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the active transaction from context, or nil when the
// caller is not inside a unit of work.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Runner executes units of work inside a single database transaction.
// Use-case services inject it so they control transactional boundaries without
// depending on the pool directly.
type Runner interface {
	// InTx runs fn inside a transaction. The context passed to fn carries the
	// transaction; repositories pick it up automatically. A nil return commits,
	// any error rolls back and is returned unchanged.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// InTxAll runs each op in order against the same transaction. The first
	// error aborts the whole batch with a rollback; on success all ops are
	// committed together.
	InTxAll(ctx context.Context, ops ...func(ctx context.Context) error) error
}

// PoolRunner is the pgxpool-backed Runner. Each unit of work acquires its own
// connection, which is released on every exit path.
type PoolRunner struct {
	pool *pgxpool.Pool
}

func NewRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

func (r *PoolRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.InTxAll(ctx, fn)
}

func (r *PoolRunner) InTxAll(ctx context.Context, ops ...func(ctx context.Context) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, DBTxKey, tx)
	for _, op := range ops {
		if err := op(txCtx); err != nil {
			// The operation's error is what the caller must see; the rollback
			// result only matters if the transaction is already unusable,
			// which pgx reports on the next use anyway.
			_ = tx.Rollback(ctx)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithTx begins a transaction on a connection acquired from the pool and
// returns a derived context carrying it, for callers that need to manage
// commit and rollback themselves. Most callers should use Runner instead.
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, pgx.Tx, func(), error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return ctx, nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, conn.Release, nil
}
