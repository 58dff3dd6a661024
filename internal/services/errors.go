package services

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound means the referenced account has no ledger row.
	// Accounts are never created implicitly by a mutation.
	ErrAccountNotFound = errors.New("points account not found")

	// ErrInvalidAmount means the amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be a positive number of points")

	// ErrInvalidTransfer means a self-transfer was requested.
	ErrInvalidTransfer = errors.New("cannot transfer points to the same account")

	// ErrInvalidQuery means malformed pagination or filter parameters.
	ErrInvalidQuery = errors.New("invalid history query parameters")

	// ErrAlreadyCheckedIn means the account already collected today's check-in bonus.
	ErrAlreadyCheckedIn = errors.New("already checked in today")

	// ErrInvalidTransferCode means a transfer QR code is unknown, expired or already used.
	ErrInvalidTransferCode = errors.New("invalid or expired transfer code")
)

// InsufficientBalanceError is returned when a spend or transfer would drive a
// balance negative. It carries the exact numbers so the HTTP layer can show them.
type InsufficientBalanceError struct {
	CurrentBalance int64
	RequiredAmount int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d", e.CurrentBalance, e.RequiredAmount)
}

// StorageError wraps a failure of the underlying store to complete an atomic
// operation. Retryable by the caller; the ledger never retries on its own.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
