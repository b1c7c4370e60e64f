package models

import (
	"time"

	"github.com/eaglebank/ledger/shared/money"
)

// AccountView is the response/read-cache projection of an account.
// Balance is rendered with exactly two decimals.
type AccountView struct {
	ID        int64     `json:"id"`
	Holder    string    `json:"holder"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"createdTimestamp"`
	UpdatedAt time.Time `json:"updatedTimestamp"`
}

// TransferView is the response projection of a committed transfer.
type TransferView struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	FromID      int64     `json:"fromId"`
	ToID        int64     `json:"toId"`
	Amount      string    `json:"amount"`
	CompletedAt time.Time `json:"completedTimestamp"`
}

// ToView converts the write model to its view.
func (a *Account) ToView() *AccountView {
	return &AccountView{
		ID:        a.ID,
		Holder:    a.Holder,
		Balance:   money.String(a.Balance),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// ToView converts a transfer result to its view.
func (r *TransferResult) ToView() *TransferView {
	return &TransferView{
		ID:          r.ID,
		Status:      r.Status,
		FromID:      r.FromID,
		ToID:        r.ToID,
		Amount:      money.String(r.Amount),
		CompletedAt: r.CompletedAt,
	}
}
