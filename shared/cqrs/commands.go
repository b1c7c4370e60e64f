package cqrs

import "github.com/shopspring/decimal"

type CreateAccountCommand struct {
	Holder  string
	Balance decimal.Decimal
}

// UpdateBalanceCommand overwrites an account balance directly. It is the
// administrative edit path and does not go through the transfer engine.
type UpdateBalanceCommand struct {
	ID      int64
	Balance decimal.Decimal
}

type DeleteAccountCommand struct {
	ID int64
}

type TransferCommand struct {
	FromID int64
	ToID   int64
	Amount decimal.Decimal
}
