package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fortunepoints/backend/internal/cache"
	"github.com/fortunepoints/backend/internal/models"
)

// PointsService executes every balance-changing operation on the points ledger.
// Each mutation is a single database transaction: the account row is read FOR
// UPDATE inside the transaction that writes it, so a balance computed from a
// stale read can never be committed. The cache is invalidated after commit,
// never before.
type PointsService struct {
	db    *sql.DB
	cache cache.BalanceCache
}

func NewPointsService(db *sql.DB, balanceCache cache.BalanceCache) *PointsService {
	return &PointsService{db: db, cache: balanceCache}
}

// CreateAccount inserts a zero-balance ledger row for a new user. Creating an
// account that already exists is a no-op; the current row is returned either
// way, with created reporting whether this call inserted it.
func (s *PointsService) CreateAccount(ctx context.Context, accountID string) (*models.Account, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO points_accounts (account_id, balance, total_earned, total_spent, updated_at)
		VALUES ($1, 0, 0, 0, NOW())
		ON CONFLICT (account_id) DO NOTHING`,
		accountID)
	if err != nil {
		return nil, false, storageErr("create account", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, storageErr("create account", err)
	}

	account, err := s.fetchAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	return account, rowsAffected > 0, nil
}

// GetBalance returns the account, read through the cache.
func (s *PointsService) GetBalance(ctx context.Context, accountID string) (*models.Account, error) {
	if account, ok := s.cache.Get(ctx, accountID); ok {
		return account, nil
	}

	account, err := s.fetchAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.cache.Put(ctx, accountID, account)
	return account, nil
}

// CheckBalance reports whether the account can afford requiredAmount. A missing
// account is a normal "cannot afford" answer here, not an error.
func (s *PointsService) CheckBalance(ctx context.Context, accountID string, requiredAmount int64) (models.BalanceCheckResult, error) {
	account, err := s.GetBalance(ctx, accountID)
	if err == ErrAccountNotFound {
		return models.BalanceCheckResult{Sufficient: false, CurrentBalance: 0}, nil
	}
	if err != nil {
		return models.BalanceCheckResult{}, err
	}
	return models.BalanceCheckResult{
		Sufficient:     account.Balance >= requiredAmount,
		CurrentBalance: account.Balance,
	}, nil
}

// Earn credits amount to the account and appends an earned record.
func (s *PointsService) Earn(ctx context.Context, accountID string, amount int64, description string) (*models.TransactionResult, error) {
	return s.mutate(ctx, accountID, amount, models.TxnEarned, description, nil)
}

// Spend debits amount from the account and appends a spent record. Fails with
// InsufficientBalanceError and no partial state when the balance cannot cover it.
func (s *PointsService) Spend(ctx context.Context, accountID string, amount int64, description string) (*models.TransactionResult, error) {
	return s.mutate(ctx, accountID, amount, models.TxnSpent, description, nil)
}

func (s *PointsService) mutate(ctx context.Context, accountID string, amount int64, txnType models.TransactionType, description string, counterpartID *string) (*models.TransactionResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	switch txnType {
	case models.TxnEarned:
		account.Balance += amount
		account.TotalEarned += amount
	case models.TxnSpent:
		if account.Balance < amount {
			return nil, &InsufficientBalanceError{CurrentBalance: account.Balance, RequiredAmount: amount}
		}
		account.Balance -= amount
		account.TotalSpent += amount
	default:
		return nil, fmt.Errorf("unknown transaction type %q", txnType)
	}

	if err := s.updateAccount(ctx, tx, account); err != nil {
		return nil, err
	}

	record, err := s.appendRecord(ctx, tx, accountID, amount, txnType, description, counterpartID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}

	s.cache.Invalidate(ctx, accountID)
	log.Printf("[POINTS] %s %d for account %s, new balance %d", txnType, amount, accountID, account.Balance)

	return &models.TransactionResult{NewBalance: account.Balance, Transaction: *record}, nil
}

// Transfer moves amount between two accounts atomically: debit, credit and both
// records commit together or not at all.
func (s *PointsService) Transfer(ctx context.Context, fromAccountID, toAccountID string, amount int64, description string) (*models.TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if fromAccountID == toAccountID {
		return nil, ErrInvalidTransfer
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback()

	// Lock rows in ascending account id order so opposite-direction transfers
	// between the same pair cannot deadlock.
	firstLock, secondLock := fromAccountID, toAccountID
	if fromAccountID > toAccountID {
		firstLock, secondLock = toAccountID, fromAccountID
	}

	first, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, err
	}
	second, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, err
	}

	from, to := first, second
	if firstLock != fromAccountID {
		from, to = second, first
	}

	if from.Balance < amount {
		return nil, &InsufficientBalanceError{CurrentBalance: from.Balance, RequiredAmount: amount}
	}

	from.Balance -= amount
	from.TotalSpent += amount
	to.Balance += amount
	to.TotalEarned += amount

	if err := s.updateAccount(ctx, tx, from); err != nil {
		return nil, err
	}
	if err := s.updateAccount(ctx, tx, to); err != nil {
		return nil, err
	}

	spentRecord, err := s.appendRecord(ctx, tx, fromAccountID, amount, models.TxnSpent, description, &toAccountID)
	if err != nil {
		return nil, err
	}
	earnedRecord, err := s.appendRecord(ctx, tx, toAccountID, amount, models.TxnEarned, description, &fromAccountID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}

	s.cache.Invalidate(ctx, fromAccountID)
	s.cache.Invalidate(ctx, toAccountID)
	log.Printf("[POINTS] transfer %d from %s to %s", amount, fromAccountID, toAccountID)

	return &models.TransferResult{
		FromBalance:  from.Balance,
		ToBalance:    to.Balance,
		Transactions: []models.TransactionRecord{*spentRecord, *earnedRecord},
	}, nil
}

// CacheStats exposes cache introspection for the stats endpoint.
func (s *PointsService) CacheStats(ctx context.Context) cache.Stats {
	return s.cache.Stats(ctx)
}

func (s *PointsService) fetchAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account := &models.Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, balance, total_earned, total_spent, updated_at
		FROM points_accounts
		WHERE account_id = $1`,
		accountID).Scan(&account.AccountID, &account.Balance, &account.TotalEarned, &account.TotalSpent, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storageErr("fetch account", err)
	}
	return account, nil
}

func (s *PointsService) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	account := &models.Account{}
	err := tx.QueryRowContext(ctx, `
		SELECT account_id, balance, total_earned, total_spent, updated_at
		FROM points_accounts
		WHERE account_id = $1
		FOR UPDATE`,
		accountID).Scan(&account.AccountID, &account.Balance, &account.TotalEarned, &account.TotalSpent, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storageErr("lock account", err)
	}
	return account, nil
}

func (s *PointsService) updateAccount(ctx context.Context, tx *sql.Tx, account *models.Account) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE points_accounts
		SET balance = $1, total_earned = $2, total_spent = $3, updated_at = $4
		WHERE account_id = $5`,
		account.Balance, account.TotalEarned, account.TotalSpent, time.Now(), account.AccountID)
	if err != nil {
		return storageErr("update account", err)
	}
	return nil
}

func (s *PointsService) appendRecord(ctx context.Context, tx *sql.Tx, accountID string, amount int64, txnType models.TransactionType, description string, counterpartID *string) (*models.TransactionRecord, error) {
	record := &models.TransactionRecord{
		ID:                   uuid.NewString(),
		AccountID:            accountID,
		Amount:               amount,
		Type:                 txnType,
		Description:          description,
		CounterpartAccountID: counterpartID,
		CreatedAt:            time.Now(),
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO points_transactions (id, account_id, amount, type, description, counterpart_account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.AccountID, record.Amount, string(record.Type), record.Description, record.CounterpartAccountID, record.CreatedAt)
	if err != nil {
		return nil, storageErr("append record", err)
	}
	return record, nil
}
