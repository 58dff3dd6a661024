package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fortunepoints/backend/internal/models"
)

const maxHistoryLimit = 100

// HistoryQuery selects a page of an account's transaction log. Type and the
// date bounds are optional filters.
type HistoryQuery struct {
	Page      int
	Limit     int
	Type      *models.TransactionType
	StartDate *time.Time
	EndDate   *time.Time
}

// HistoryService provides read-only, paginated access to points transactions.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// GetHistory returns one page of the account's records, newest first.
func (s *HistoryService) GetHistory(ctx context.Context, accountID string, query HistoryQuery) (*models.HistoryResult, error) {
	if query.Page < 1 || query.Limit < 1 {
		return nil, ErrInvalidQuery
	}
	if query.Limit > maxHistoryLimit {
		query.Limit = maxHistoryLimit
	}
	if query.Type != nil && !query.Type.Valid() {
		return nil, ErrInvalidQuery
	}
	if query.StartDate != nil && query.EndDate != nil && query.StartDate.After(*query.EndDate) {
		return nil, ErrInvalidQuery
	}

	conditions := []string{"account_id = $1"}
	args := []interface{}{accountID}
	argIndex := 2

	if query.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, string(*query.Type))
		argIndex++
	}
	if query.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *query.StartDate)
		argIndex++
	}
	if query.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, *query.EndDate)
		argIndex++
	}

	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM points_transactions"+where, args...).Scan(&total)
	if err != nil {
		return nil, storageErr("count history", err)
	}

	selectQuery := `
		SELECT id, account_id, amount, type, description, counterpart_account_id, created_at
		FROM points_transactions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, query.Limit, (query.Page-1)*query.Limit)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, storageErr("fetch history", err)
	}
	defer rows.Close()

	records := []models.TransactionRecord{}
	for rows.Next() {
		var record models.TransactionRecord
		var txnType string
		err := rows.Scan(&record.ID, &record.AccountID, &record.Amount, &txnType,
			&record.Description, &record.CounterpartAccountID, &record.CreatedAt)
		if err != nil {
			return nil, storageErr("scan history", err)
		}
		record.Type = models.TransactionType(txnType)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("fetch history", err)
	}

	pages := total / query.Limit
	if total%query.Limit != 0 {
		pages++
	}

	return &models.HistoryResult{
		Records: records,
		Pagination: models.Pagination{
			Page:  query.Page,
			Limit: query.Limit,
			Total: total,
			Pages: pages,
		},
	}, nil
}
