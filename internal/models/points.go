package models

import (
	"time"
)

// TransactionType is the closed set of ledger record kinds.
type TransactionType string

const (
	TxnEarned TransactionType = "earned"
	TxnSpent  TransactionType = "spent"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == TxnEarned || t == TxnSpent
}

// Account is the per-user points balance row. The running totals and the
// transaction log must reconcile: Balance == TotalEarned - TotalSpent, Balance >= 0.
type Account struct {
	AccountID   string    `json:"accountId" db:"account_id"`
	Balance     int64     `json:"balance" db:"balance"`
	TotalEarned int64     `json:"totalEarned" db:"total_earned"`
	TotalSpent  int64     `json:"totalSpent" db:"total_spent"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// TransactionRecord is one immutable entry in the append-only points log.
// Transfer-derived records carry the other side's id in CounterpartAccountID.
type TransactionRecord struct {
	ID                   string          `json:"id" db:"id"`
	AccountID            string          `json:"accountId" db:"account_id"`
	Amount               int64           `json:"amount" db:"amount"`
	Type                 TransactionType `json:"type" db:"type"`
	Description          string          `json:"description" db:"description"`
	CounterpartAccountID *string         `json:"counterpartAccountId,omitempty" db:"counterpart_account_id"`
	CreatedAt            time.Time       `json:"createdAt" db:"created_at"`
}

// TransactionResult is returned by earn/spend.
type TransactionResult struct {
	NewBalance  int64             `json:"newBalance"`
	Transaction TransactionRecord `json:"transaction"`
}

// TransferResult is returned by transfer. Transactions holds the spent record
// on the source account followed by the earned record on the destination.
type TransferResult struct {
	FromBalance  int64               `json:"fromBalance"`
	ToBalance    int64               `json:"toBalance"`
	Transactions []TransactionRecord `json:"transactions"`
}

// BalanceCheckResult answers "can this account afford requiredAmount".
type BalanceCheckResult struct {
	Sufficient     bool  `json:"sufficient"`
	CurrentBalance int64 `json:"currentBalance"`
}

// Pagination describes one page of history results.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// HistoryResult is one page of an account's transaction log, newest first.
type HistoryResult struct {
	Records    []TransactionRecord `json:"records"`
	Pagination Pagination          `json:"pagination"`
}
