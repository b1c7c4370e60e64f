package repository

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/money"
	"github.com/shopspring/decimal"
)

// MaxHolderLength matches the holder column width.
const MaxHolderLength = 255

// AccountStore is the durable owner of account rows.
//
// WithTx runs fn inside one transaction bound to the context it passes to fn:
// every store call made with that context joins the transaction, the
// transaction commits only when fn returns nil, and it rolls back on any error
// or panic. Row locks taken inside (GetForUpdate, or any write) are released
// on either outcome. Calls made without a transaction context run as
// single-statement autocommit operations that still take the row lock.
type AccountStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, holder string, balance decimal.Decimal) (*models.Account, error)
	GetAll(ctx context.Context) ([]models.Account, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	// GetForUpdate requires an active transaction and holds the row's
	// exclusive lock until it ends. Missing rows yield domain.ErrAccountNotFound.
	GetForUpdate(ctx context.Context, id int64) (*models.Account, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) (int64, error)
	// AddToBalance applies balance = balance + delta against the current
	// stored value.
	AddToBalance(ctx context.Context, id int64, delta decimal.Decimal) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
}

var (
	_ AccountStore = (*PostgresAccountStore)(nil)
	_ AccountStore = (*MemoryAccountStore)(nil)
)

// validateNewAccount applies the create rules shared by every store.
func validateNewAccount(holder string, balance decimal.Decimal) (string, error) {
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return "", domain.Validation("account holder is required")
	}
	if utf8.RuneCountInString(holder) > MaxHolderLength {
		return "", domain.Validation("account holder must be at most %d characters", MaxHolderLength)
	}
	if err := money.ValidateBalance(balance); err != nil {
		return "", domain.Validation("initial balance: %s", err.Error())
	}
	return holder, nil
}
