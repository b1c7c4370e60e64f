package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the persisted ledger row.
type Account struct {
	ID        int64           `json:"id"`
	Holder    string          `json:"holder"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdTimestamp"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}

// TransferStatusOK is the only status a committed transfer reports.
const TransferStatusOK = "ok"

// TransferResult describes one committed transfer.
type TransferResult struct {
	ID          string          `json:"id"`
	FromID      int64           `json:"fromId"`
	ToID        int64           `json:"toId"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	CompletedAt time.Time       `json:"completedTimestamp"`
}
