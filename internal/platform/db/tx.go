package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type txKey struct{}

type txState struct {
	tx          pgx.Tx
	afterCommit []func(context.Context)
}

// WithTx executes fn within a read-committed transaction. When ctx already
// carries a transaction opened by an outer WithTx, fn joins it and the outer
// call owns commit and rollback.
func WithTx(ctx context.Context, db Beginner, fn func(context.Context, pgx.Tx) error) error {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx, state.tx)
	}
	if db == nil {
		return errors.New("platform/db: no connection configured")
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	state := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, state), tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	for _, hook := range state.afterCommit {
		hook(ctx)
	}

	return nil
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// AfterCommit defers fn until the outermost transaction in ctx commits. Without
// a transaction fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if fn == nil {
		return
	}
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.afterCommit = append(state.afterCommit, fn)
		return
	}
	fn(ctx)
}

// Transactor groups several repository calls into one unit of work.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor constructs a Transactor over pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTx runs fn inside a transaction that repositories using WithTx will join.
func (t *Transactor) InTx(ctx context.Context, fn func(context.Context) error) error {
	var pool Beginner
	if t != nil && t.pool != nil {
		pool = t.pool
	}
	return WithTx(ctx, pool, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	})
}
