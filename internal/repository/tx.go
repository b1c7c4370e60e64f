package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/money"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type txKey struct{}

// withTx opens a transaction unless ctx already carries one, in which case fn
// joins it. lockTimeout bounds every row-lock wait inside the transaction.
func withTx(ctx context.Context, db *sql.DB, lockTimeout time.Duration, logger *zap.Logger, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreFault(fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if lockTimeout > 0 {
		// SET does not take bind parameters; the value is an integer we format.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return domain.StoreFault(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Error("rollback failed", zap.Error(rbErr), zap.NamedError("cause", err))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapStoreError("failed to commit transaction", err)
	}
	return nil
}

func txFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Postgres SQLSTATE codes the store distinguishes.
const (
	codeCheckViolation   = "23514"
	codeNumericOverflow  = "22003"
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
	codeSerialization    = "40001"
)

// mapStoreError converts a driver error into the ledger taxonomy. Constraint
// violations become input errors; everything else, including lock timeouts
// and deadlocks, is a retry-safe StoreFault.
func mapStoreError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeCheckViolation:
			return domain.Validation("balance must not be negative")
		case codeNumericOverflow:
			return domain.InvalidAmount(money.ErrTooLarge)
		}
	}
	return domain.StoreFault(fmt.Errorf("%s: %w", op, err))
}

// isRetryable reports whether err is a lock or serialization conflict.
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case codeLockNotAvailable, codeDeadlock, codeSerialization:
		return true
	}
	return false
}
