package tx

import (
	"context"
	"database/sql"
	"time"
)

const defaultTimeout = 5 * time.Second

type ctxKey struct{}

var txKey = ctxKey{}

type state struct {
	tx          *sql.Tx
	afterCommit []func()
}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, &state{tx: tx})
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	st, ok := ctx.Value(txKey).(*state)
	if !ok {
		return nil, false
	}
	return st.tx, true
}

// AfterCommit defers fn until the transaction in ctx commits. Without a
// transaction in ctx it reports false and the caller runs fn itself.
func AfterCommit(ctx context.Context, fn func()) bool {
	st, ok := ctx.Value(txKey).(*state)
	if !ok {
		return false
	}
	st.afterCommit = append(st.afterCommit, fn)
	return true
}

// Run executes fn inside a transaction and commits when fn succeeds.
// A transaction already present in ctx is joined instead of nested.
// Hooks registered through AfterCommit run once the commit is durable.
func Run(ctx context.Context, db *sql.DB, timeout time.Duration, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if timeout == 0 {
		timeout = defaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	st := &state{tx: sqlTx}
	if err := fn(context.WithValue(ctx, txKey, st)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return err
	}
	for _, hook := range st.afterCommit {
		hook()
	}
	return nil
}
