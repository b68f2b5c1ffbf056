package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// RollbackError is returned when a transaction failed and rolling it back failed too.
// The database state is unknown and needs an operator.
type RollbackError struct {
	Cause    error
	Rollback error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("platform/db: rollback failed: %v (after: %v)", e.Rollback, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	return WithTxOptions(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

// WithTxOptions executes a function within a transaction started with opts.
func WithTxOptions(ctx context.Context, pool Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return &RollbackError{Cause: err, Rollback: rbErr}
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// Runner wraps WithTxOptions and raises an operator alert when a rollback fails.
// Its transactions run at ReadCommitted: writers serialize on SELECT ... FOR UPDATE
// row locks and a waiter re-reads the row committed by the lock holder.
type Runner struct {
	pool    Beginner
	logger  *slog.Logger
	onAlert func()
}

// NewRunner constructs a Runner. onAlert may be nil.
func NewRunner(pool Beginner, logger *slog.Logger, onAlert func()) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pool: pool, logger: logger, onAlert: onAlert}
}

// WithTx runs fn inside a transaction.
func (r *Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	err := WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
	var rbErr *RollbackError
	if errors.As(err, &rbErr) {
		r.logger.Error("transaction rollback failed",
			slog.Bool("alert", true),
			slog.Any("error", rbErr.Rollback),
			slog.Any("cause", rbErr.Cause))
		if r.onAlert != nil {
			r.onAlert()
		}
	}
	return err
}
