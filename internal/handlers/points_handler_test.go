package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/fortunepoints/backend/internal/cache"
	"github.com/fortunepoints/backend/internal/config"
	"github.com/fortunepoints/backend/internal/middleware"
	"github.com/fortunepoints/backend/internal/models"
	"github.com/fortunepoints/backend/internal/services"
)

const (
	lockQuery   = `(?s)SELECT account_id, balance, total_earned, total_spent, updated_at.*FOR UPDATE`
	fetchQuery  = `(?s)SELECT account_id, balance, total_earned, total_spent, updated_at.*WHERE account_id = \$1\s*$`
	updateQuery = `UPDATE points_accounts`
	insertQuery = `INSERT INTO points_transactions`
)

func accountRows(accountID string, balance, earned, spent int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"account_id", "balance", "total_earned", "total_spent", "updated_at"}).
		AddRow(accountID, balance, earned, spent, time.Now())
}

func newHandlerFixture(t *testing.T) (*PointsHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	points := services.NewPointsService(db, cache.NewMemoryCache(time.Minute))
	history := services.NewHistoryService(db)
	cfg := &config.PointsConfig{SignupBonus: 1000}

	handler := NewPointsHandler(points, history, nil, nil, cfg)
	return handler, mock, func() { db.Close() }
}

func authedRequest(method, target, body, userID string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	}
	return req
}

func TestPointsHandler_Unauthorized(t *testing.T) {
	handler, mock, closeDB := newHandlerFixture(t)
	defer closeDB()

	endpoints := map[string]http.HandlerFunc{
		"GetBalance": handler.GetBalance,
		"Earn":       handler.Earn,
		"Spend":      handler.Spend,
		"Transfer":   handler.Transfer,
		"GetHistory": handler.GetHistory,
		"CheckIn":    handler.CheckIn,
	}

	for name, endpoint := range endpoints {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			endpoint(rec, authedRequest(http.MethodPost, "/", "", ""))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPointsHandler_CreateAccount(t *testing.T) {
	t.Run("new account gets the registration bonus", func(t *testing.T) {
		handler, mock, closeDB := newHandlerFixture(t)
		defer closeDB()

		mock.ExpectExec("INSERT INTO points_accounts").
			WithArgs("user1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(fetchQuery).
			WithArgs("user1").
			WillReturnRows(accountRows("user1", 0, 0, 0))

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("user1").
			WillReturnRows(accountRows("user1", 0, 0, 0))
		mock.ExpectExec(updateQuery).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertQuery).
			WithArgs(sqlmock.AnyArg(), "user1", int64(1000), "earned", "registration bonus", nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		// The response is re-read after the credit, not patched by hand.
		mock.ExpectQuery(fetchQuery).
			WithArgs("user1").
			WillReturnRows(accountRows("user1", 1000, 1000, 0))

		rec := httptest.NewRecorder()
		handler.CreateAccount(rec, authedRequest(http.MethodPost, "/api/v1/points/account", "", "user1"))

		assert.Equal(t, http.StatusCreated, rec.Code)

		var account models.Account
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
		assert.Equal(t, int64(1000), account.Balance)
		assert.Equal(t, int64(1000), account.TotalEarned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed registration bonus is surfaced, not swallowed", func(t *testing.T) {
		handler, mock, closeDB := newHandlerFixture(t)
		defer closeDB()

		mock.ExpectExec("INSERT INTO points_accounts").
			WithArgs("user1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(fetchQuery).
			WithArgs("user1").
			WillReturnRows(accountRows("user1", 0, 0, 0))

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("user1").
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		rec := httptest.NewRecorder()
		handler.CreateAccount(rec, authedRequest(http.MethodPost, "/api/v1/points/account", "", "user1"))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing account is returned without a second bonus", func(t *testing.T) {
		handler, mock, closeDB := newHandlerFixture(t)
		defer closeDB()

		mock.ExpectExec("INSERT INTO points_accounts").
			WithArgs("user1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(fetchQuery).
			WithArgs("user1").
			WillReturnRows(accountRows("user1", 250, 1000, 750))

		rec := httptest.NewRecorder()
		handler.CreateAccount(rec, authedRequest(http.MethodPost, "/api/v1/points/account", "", "user1"))

		assert.Equal(t, http.StatusCreated, rec.Code)

		var account models.Account
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
		assert.Equal(t, int64(250), account.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPointsHandler_GetBalance(t *testing.T) {
	handler, mock, closeDB := newHandlerFixture(t)
	defer closeDB()

	mock.ExpectQuery(fetchQuery).
		WithArgs("user1").
		WillReturnRows(accountRows("user1", 70, 100, 30))

	rec := httptest.NewRecorder()
	handler.GetBalance(rec, authedRequest(http.MethodGet, "/api/v1/points/balance", "", "user1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var account models.Account
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.Equal(t, int64(70), account.Balance)
	assert.Equal(t, int64(100), account.TotalEarned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPointsHandler_CheckBalance(t *testing.T) {
	handler, mock, closeDB := newHandlerFixture(t)
	defer closeDB()

	t.Run("sufficient", func(t *testing.T) {
		mock.ExpectQuery(fetchQuery).
			WithArgs("user1").
			WillReturnRows(accountRows("user1", 100, 100, 0))

		rec := httptest.NewRecorder()
		handler.CheckBalance(rec, authedRequest(http.MethodGet, "/api/v1/points/check?amount=80", "", "user1"))

		assert.Equal(t, http.StatusOK, rec.Code)

		var result models.BalanceCheckResult
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Sufficient)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing amount", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.CheckBalance(rec, authedRequest(http.MethodGet, "/api/v1/points/check", "", "user1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative amount", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.CheckBalance(rec, authedRequest(http.MethodGet, "/api/v1/points/check?amount=-5", "", "user1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPointsHandler_Spend(t *testing.T) {
	t.Run("successful spend", func(t *testing.T) {
		handler, mock, closeDB := newHandlerFixture(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("user1").
			WillReturnRows(accountRows("user1", 100, 100, 0))
		mock.ExpectExec(updateQuery).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(insertQuery).
			WithArgs(sqlmock.AnyArg(), "user1", int64(30), "spent", "bazi analysis", nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		rec := httptest.NewRecorder()
		handler.Spend(rec, authedRequest(http.MethodPost, "/api/v1/points/spend",
			`{"amount":30,"description":"bazi analysis"}`, "user1"))

		assert.Equal(t, http.StatusOK, rec.Code)

		var result models.TransactionResult
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, int64(70), result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance returns 402 with the shortfall", func(t *testing.T) {
		handler, mock, closeDB := newHandlerFixture(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("user1").
			WillReturnRows(accountRows("user1", 70, 100, 30))
		mock.ExpectRollback()

		rec := httptest.NewRecorder()
		handler.Spend(rec, authedRequest(http.MethodPost, "/api/v1/points/spend",
			`{"amount":100,"description":"ziwei chart"}`, "user1"))

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)

		var response services.ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Equal(t, int64(70), *response.CurrentBalance)
		assert.Equal(t, int64(100), *response.RequiredAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation failures never reach the database", func(t *testing.T) {
		handler, mock, closeDB := newHandlerFixture(t)
		defer closeDB()

		bodies := []string{
			`{"amount":-10,"description":"x"}`,
			`{"amount":10}`,
			`{"amount":10,"description":"x","extra":true}`,
			`not json`,
		}
		for _, body := range bodies {
			rec := httptest.NewRecorder()
			handler.Spend(rec, authedRequest(http.MethodPost, "/api/v1/points/spend", body, "user1"))
			assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account returns 404", func(t *testing.T) {
		handler, mock, closeDB := newHandlerFixture(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		rec := httptest.NewRecorder()
		handler.Spend(rec, authedRequest(http.MethodPost, "/api/v1/points/spend",
			`{"amount":10,"description":"x"}`, "ghost"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPointsHandler_Transfer(t *testing.T) {
	handler, mock, closeDB := newHandlerFixture(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).
		WithArgs("user1").
		WillReturnRows(accountRows("user1", 50, 50, 0))
	mock.ExpectQuery(lockQuery).
		WithArgs("user2").
		WillReturnRows(accountRows("user2", 0, 0, 0))
	mock.ExpectExec(updateQuery).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateQuery).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertQuery).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertQuery).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec := httptest.NewRecorder()
	handler.Transfer(rec, authedRequest(http.MethodPost, "/api/v1/points/transfer",
		`{"toAccountId":"user2","amount":20,"description":"gift"}`, "user1"))

	assert.Equal(t, http.StatusOK, rec.Code)

	var result models.TransferResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(30), result.FromBalance)
	assert.Equal(t, int64(20), result.ToBalance)
	assert.Len(t, result.Transactions, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPointsHandler_GetHistory(t *testing.T) {
	handler, mock, closeDB := newHandlerFixture(t)
	defer closeDB()

	t.Run("defaults applied", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM points_transactions`).
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`(?s)SELECT id, account_id, amount, type, description, counterpart_account_id, created_at.*FROM points_transactions`).
			WithArgs("user1", 20, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "type", "description", "counterpart_account_id", "created_at"}))

		rec := httptest.NewRecorder()
		handler.GetHistory(rec, authedRequest(http.MethodGet, "/api/v1/points/history", "", "user1"))

		assert.Equal(t, http.StatusOK, rec.Code)

		var result models.HistoryResult
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 1, result.Pagination.Page)
		assert.Equal(t, 20, result.Pagination.Limit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed query parameters", func(t *testing.T) {
		targets := []string{
			"/api/v1/points/history?page=abc",
			"/api/v1/points/history?limit=abc",
			"/api/v1/points/history?startDate=31-08-2026",
			"/api/v1/points/history?endDate=yesterday",
		}
		for _, target := range targets {
			rec := httptest.NewRecorder()
			handler.GetHistory(rec, authedRequest(http.MethodGet, target, "", "user1"))
			assert.Equal(t, http.StatusBadRequest, rec.Code, "target: %s", target)
		}
	})

	t.Run("unknown type rejected by the service", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.GetHistory(rec, authedRequest(http.MethodGet, "/api/v1/points/history?type=refunded", "", "user1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPointsHandler_RedisBackedEndpointsUnavailable(t *testing.T) {
	handler, mock, closeDB := newHandlerFixture(t)
	defer closeDB()

	t.Run("check-in", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.CheckIn(rec, authedRequest(http.MethodPost, "/api/v1/points/checkin", "", "user1"))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("generate QR", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.GenerateTransferQR(rec, authedRequest(http.MethodPost, "/api/v1/points/qr",
			`{"amount":20}`, "user1"))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("redeem QR", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.RedeemTransferQR(rec, authedRequest(http.MethodPost, "/api/v1/points/qr/redeem",
			`{"code":"abc"}`, "user1"))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPointsHandler_CacheStats(t *testing.T) {
	handler, mock, closeDB := newHandlerFixture(t)
	defer closeDB()

	rec := httptest.NewRecorder()
	handler.CacheStats(rec, authedRequest(http.MethodGet, "/api/v1/points/cache/stats", "", "user1"))

	assert.Equal(t, http.StatusOK, rec.Code)

	var stats cache.Stats
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Size)
	assert.NoError(t, mock.ExpectationsWereMet())
}
