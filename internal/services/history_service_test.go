package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/fortunepoints/backend/internal/models"
)

const (
	countQuery   = `SELECT COUNT\(\*\) FROM points_transactions`
	historyQuery = `(?s)SELECT id, account_id, amount, type, description, counterpart_account_id, created_at.*FROM points_transactions`
)

func historyRows(records ...models.TransactionRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "account_id", "amount", "type", "description", "counterpart_account_id", "created_at"})
	for _, r := range records {
		rows.AddRow(r.ID, r.AccountID, r.Amount, string(r.Type), r.Description, r.CounterpartAccountID, r.CreatedAt)
	}
	return rows
}

func TestHistoryService_GetHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewHistoryService(db)
	ctx := context.Background()

	t.Run("first page with type filter", func(t *testing.T) {
		now := time.Now()
		earned := models.TxnEarned

		mock.ExpectQuery(countQuery).
			WithArgs("user1", "earned").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery(historyQuery).
			WithArgs("user1", "earned", 2, 0).
			WillReturnRows(historyRows(
				models.TransactionRecord{ID: "t3", AccountID: "user1", Amount: 10, Type: models.TxnEarned, Description: "daily check-in (streak 2)", CreatedAt: now},
				models.TransactionRecord{ID: "t2", AccountID: "user1", Amount: 10, Type: models.TxnEarned, Description: "daily check-in (streak 1)", CreatedAt: now.Add(-24 * time.Hour)},
			))

		result, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 1, Limit: 2, Type: &earned})
		assert.NoError(t, err)
		assert.Len(t, result.Records, 2)
		assert.Equal(t, models.TxnEarned, result.Records[0].Type)
		assert.Equal(t, models.Pagination{Page: 1, Limit: 2, Total: 3, Pages: 2}, result.Pagination)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("date range filter", func(t *testing.T) {
		start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

		mock.ExpectQuery(countQuery).
			WithArgs("user1", start, end).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(historyQuery).
			WithArgs("user1", start, end, 20, 0).
			WillReturnRows(historyRows(
				models.TransactionRecord{ID: "t1", AccountID: "user1", Amount: 100, Type: models.TxnSpent, Description: "bazi analysis", CreatedAt: start.Add(time.Hour)},
			))

		result, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 1, Limit: 20, StartDate: &start, EndDate: &end})
		assert.NoError(t, err)
		assert.Len(t, result.Records, 1)
		assert.Equal(t, 1, result.Pagination.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second page offset", func(t *testing.T) {
		mock.ExpectQuery(countQuery).
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))
		mock.ExpectQuery(historyQuery).
			WithArgs("user1", 10, 10).
			WillReturnRows(historyRows())

		result, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 2, Limit: 10})
		assert.NoError(t, err)
		assert.Equal(t, 3, result.Pagination.Pages)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("oversized limit is clamped", func(t *testing.T) {
		mock.ExpectQuery(countQuery).
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(historyQuery).
			WithArgs("user1", 100, 0).
			WillReturnRows(historyRows())

		result, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 1, Limit: 500})
		assert.NoError(t, err)
		assert.Equal(t, 100, result.Pagination.Limit)
		assert.Empty(t, result.Records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("identical queries return identical results", func(t *testing.T) {
		now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		record := models.TransactionRecord{ID: "t9", AccountID: "user1", Amount: 50, Type: models.TxnSpent, Description: "ziwei chart", CreatedAt: now}

		for i := 0; i < 2; i++ {
			mock.ExpectQuery(countQuery).
				WithArgs("user1").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
			mock.ExpectQuery(historyQuery).
				WithArgs("user1", 20, 0).
				WillReturnRows(historyRows(record))
		}

		first, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 1, Limit: 20})
		assert.NoError(t, err)
		second, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 1, Limit: 20})
		assert.NoError(t, err)
		assert.Equal(t, first, second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid pagination rejected", func(t *testing.T) {
		_, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 0, Limit: 20})
		assert.ErrorIs(t, err, ErrInvalidQuery)

		_, err = service.GetHistory(ctx, "user1", HistoryQuery{Page: 1, Limit: 0})
		assert.ErrorIs(t, err, ErrInvalidQuery)

		_, err = service.GetHistory(ctx, "user1", HistoryQuery{Page: -3, Limit: -1})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		bogus := models.TransactionType("refunded")
		_, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 1, Limit: 20, Type: &bogus})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("inverted date range rejected", func(t *testing.T) {
		start := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
		end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

		_, err := service.GetHistory(ctx, "user1", HistoryQuery{Page: 1, Limit: 20, StartDate: &start, EndDate: &end})
		assert.ErrorIs(t, err, ErrInvalidQuery)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
