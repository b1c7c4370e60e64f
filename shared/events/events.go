package events

import "time"

// Event types
const (
	AccountCreated    = "account.created"
	AccountDeleted    = "account.deleted"
	BalanceUpdated    = "balance.updated"
	TransferCompleted = "transfer.completed"
)

// Stream names
const (
	AccountEventsStream  = "ledger.accounts"
	TransferEventsStream = "ledger.transfers"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Account events. Amounts travel as fixed two-decimal strings.
type AccountCreatedEvent struct {
	AccountID int64  `json:"accountId"`
	Holder    string `json:"holder"`
	Balance   string `json:"balance"`
}

type AccountDeletedEvent struct {
	AccountID int64 `json:"accountId"`
}

type BalanceUpdatedEvent struct {
	AccountID  int64  `json:"accountId"`
	NewBalance string `json:"newBalance"`
}

// Transfer events
type TransferCompletedEvent struct {
	TransferID string `json:"transferId"`
	FromID     int64  `json:"fromId"`
	ToID       int64  `json:"toId"`
	Amount     string `json:"amount"`
}
