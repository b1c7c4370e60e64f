package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/logging"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errNoTransaction = errors.New("row lock requested outside a transaction")

// PostgresAccountStore is the AccountStore backed by the accounts table.
type PostgresAccountStore struct {
	db          *sql.DB
	lockTimeout time.Duration
	logger      *zap.Logger
}

func NewPostgresAccountStore(db *sql.DB, lockTimeout time.Duration, logger *zap.Logger) *PostgresAccountStore {
	return &PostgresAccountStore{db: db, lockTimeout: lockTimeout, logger: logging.OrNop(logger)}
}

func (r *PostgresAccountStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, r.lockTimeout, r.logger, fn)
}

func (r *PostgresAccountStore) Create(ctx context.Context, holder string, balance decimal.Decimal) (*models.Account, error) {
	holder, err := validateNewAccount(holder, balance)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO accounts (holder, balance)
		VALUES ($1, $2)
		RETURNING id, holder, balance, created_at, updated_at
	`
	var account models.Account
	err = r.queryRow(ctx, query, holder, balance).Scan(
		&account.ID, &account.Holder, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, r.fault("failed to create account", err)
	}
	return &account, nil
}

func (r *PostgresAccountStore) GetAll(ctx context.Context) ([]models.Account, error) {
	query := `
		SELECT id, holder, balance, created_at, updated_at
		FROM accounts
		ORDER BY id
	`
	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, r.fault("failed to list accounts", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(
			&account.ID, &account.Holder, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
		); err != nil {
			return nil, r.fault("failed to scan account", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, r.fault("failed to list accounts", err)
	}
	return accounts, nil
}

func (r *PostgresAccountStore) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `
		SELECT id, holder, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	return r.getOne(ctx, query, id)
}

func (r *PostgresAccountStore) GetForUpdate(ctx context.Context, id int64) (*models.Account, error) {
	if txFromContext(ctx) == nil {
		return nil, domain.StoreFault(errNoTransaction)
	}
	query := `
		SELECT id, holder, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`
	return r.getOne(ctx, query, id)
}

func (r *PostgresAccountStore) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) (int64, error) {
	query := `
		UPDATE accounts
		SET balance = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.execAffected(ctx, "failed to update balance", query, id, balance)
}

func (r *PostgresAccountStore) AddToBalance(ctx context.Context, id int64, delta decimal.Decimal) (int64, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.execAffected(ctx, "failed to credit balance", query, id, delta)
}

func (r *PostgresAccountStore) Delete(ctx context.Context, id int64) (int64, error) {
	query := `DELETE FROM accounts WHERE id = $1`
	return r.execAffected(ctx, "failed to delete account", query, id)
}

func (r *PostgresAccountStore) getOne(ctx context.Context, query string, id int64) (*models.Account, error) {
	var account models.Account
	err := r.queryRow(ctx, query, id).Scan(
		&account.ID, &account.Holder, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, r.fault("failed to get account", err)
	}
	return &account, nil
}

func (r *PostgresAccountStore) execAffected(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := r.exec(ctx, query, args...)
	if err != nil {
		return 0, r.fault(op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, r.fault("failed to check rows affected", err)
	}
	return rows, nil
}

func (r *PostgresAccountStore) fault(op string, err error) error {
	mapped := mapStoreError(op, err)
	if domain.KindOf(mapped) == domain.KindStoreFault {
		if isRetryable(err) {
			r.logger.Warn("lock conflict", zap.String("op", op), zap.Error(err))
		} else {
			r.logger.Error("store failure", zap.String("op", op), zap.Error(err))
		}
	}
	return mapped
}

func (r *PostgresAccountStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.db.ExecContext(ctx, query, args...)
}

func (r *PostgresAccountStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return r.db.QueryContext(ctx, query, args...)
}

func (r *PostgresAccountStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.db.QueryRowContext(ctx, query, args...)
}

// Ping verifies the pool can reach the database.
func (r *PostgresAccountStore) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}
