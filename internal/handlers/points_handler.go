package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/fortunepoints/backend/internal/config"
	"github.com/fortunepoints/backend/internal/middleware"
	"github.com/fortunepoints/backend/internal/models"
	"github.com/fortunepoints/backend/internal/services"
)

// PointsHandler is the HTTP surface of the points ledger. The checkin and qr
// services are nil when Redis is unavailable; their endpoints answer 503.
type PointsHandler struct {
	points    *services.PointsService
	history   *services.HistoryService
	checkin   *services.CheckinService
	qr        *services.TransferQRService
	cfg       *config.PointsConfig
	validator *services.ValidationHelper
}

func NewPointsHandler(points *services.PointsService, history *services.HistoryService, checkin *services.CheckinService, qr *services.TransferQRService, cfg *config.PointsConfig) *PointsHandler {
	return &PointsHandler{
		points:    points,
		history:   history,
		checkin:   checkin,
		qr:        qr,
		cfg:       cfg,
		validator: services.NewValidationHelper(),
	}
}

func (h *PointsHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// CreateAccount opens a points ledger account for the authenticated user
// @Summary Create points account
// @Description Create the ledger account for a new user and credit the registration bonus
// @Tags points
// @Produce json
// @Security BearerAuth
// @Success 201 {object} models.Account
// @Failure 401 {object} services.ErrorResponse
// @Router /points/account [post]
func (h *PointsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, created, err := h.points.CreateAccount(r.Context(), userID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	if created && h.cfg.SignupBonus > 0 {
		if _, err := h.points.Earn(r.Context(), userID, h.cfg.SignupBonus, "registration bonus"); err != nil {
			log.Printf("[POINTS] Failed to credit registration bonus for %s: %v", userID, err)
			services.SendLedgerError(w, err)
			return
		}
		account, err = h.points.GetBalance(r.Context(), userID)
		if err != nil {
			services.SendLedgerError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// GetBalance returns the authenticated user's points account
// @Summary Get points balance
// @Description Get the current balance and running totals, served through the balance cache
// @Tags points
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Account
// @Failure 404 {object} services.ErrorResponse
// @Router /points/balance [get]
func (h *PointsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := h.points.GetBalance(r.Context(), userID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// CheckBalance answers whether the user can afford an amount
// @Summary Check points sufficiency
// @Description Check whether the balance covers the given amount, for gating paid features
// @Tags points
// @Produce json
// @Security BearerAuth
// @Param amount query int true "Required amount"
// @Success 200 {object} models.BalanceCheckResult
// @Failure 400 {object} services.ErrorResponse
// @Router /points/check [get]
func (h *PointsHandler) CheckBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		services.SendErrorResponse(w, "amount must be a positive integer", http.StatusBadRequest, nil)
		return
	}

	result, err := h.points.CheckBalance(r.Context(), userID, amount)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Earn credits points to the authenticated user
// @Summary Earn points
// @Description Credit points with a caller-provided description; restricted to service-role tokens (bonus flows)
// @Failure 403 {object} services.ErrorResponse
// @Tags points
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,description=string} true "Earn request"
// @Success 200 {object} models.TransactionResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /points/earn [post]
func (h *PointsHandler) Earn(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Description string `json:"description" validate:"required,max=255"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.points.Earn(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Spend debits points from the authenticated user
// @Summary Spend points
// @Description Debit points for a paid feature; fails without partial effects when the balance is short
// @Tags points
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,description=string} true "Spend request"
// @Success 200 {object} models.TransactionResult
// @Failure 402 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /points/spend [post]
func (h *PointsHandler) Spend(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Description string `json:"description" validate:"required,max=255"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.points.Spend(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Transfer moves points from the authenticated user to another account
// @Summary Transfer points
// @Description Atomically move points to another account; both sides commit or neither does
// @Tags points
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{toAccountId=string,amount=int64,description=string} true "Transfer request"
// @Success 200 {object} models.TransferResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /points/transfer [post]
func (h *PointsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		ToAccountID string `json:"toAccountId" validate:"required"`
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Description string `json:"description" validate:"required,max=255"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.points.Transfer(r.Context(), userID, req.ToAccountID, req.Amount, req.Description)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetHistory lists the user's transaction records
// @Summary Get points history
// @Description Paginated transaction log, newest first, filterable by type and date range
// @Tags points
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Param type query string false "Filter by type (earned|spent)"
// @Param startDate query string false "RFC 3339 or YYYY-MM-DD lower bound"
// @Param endDate query string false "RFC 3339 or YYYY-MM-DD upper bound"
// @Success 200 {object} models.HistoryResult
// @Failure 400 {object} services.ErrorResponse
// @Router /points/history [get]
func (h *PointsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := services.HistoryQuery{Page: 1, Limit: 20}

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			services.SendErrorResponse(w, "page must be an integer", http.StatusBadRequest, nil)
			return
		}
		query.Page = page
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			services.SendErrorResponse(w, "limit must be an integer", http.StatusBadRequest, nil)
			return
		}
		query.Limit = limit
	}
	if typeStr := r.URL.Query().Get("type"); typeStr != "" {
		txnType := models.TransactionType(typeStr)
		query.Type = &txnType
	}
	if startStr := r.URL.Query().Get("startDate"); startStr != "" {
		start, err := parseDate(startStr)
		if err != nil {
			services.SendErrorResponse(w, "startDate must be RFC 3339 or YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		query.StartDate = &start
	}
	if endStr := r.URL.Query().Get("endDate"); endStr != "" {
		end, err := parseDate(endStr)
		if err != nil {
			services.SendErrorResponse(w, "endDate must be RFC 3339 or YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		query.EndDate = &end
	}

	result, err := h.history.GetHistory(r.Context(), userID, query)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// CheckIn collects the daily check-in bonus
// @Summary Daily check-in
// @Description Credit the daily bonus; consecutive days grow the streak
// @Tags points
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.CheckinResult
// @Failure 409 {object} services.ErrorResponse
// @Router /points/checkin [post]
func (h *PointsHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if h.checkin == nil {
		services.SendErrorResponse(w, "Check-in is unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	result, err := h.checkin.CheckIn(r.Context(), userID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GenerateTransferQR publishes a receive-points request as a QR code
// @Summary Generate transfer QR
// @Description Encode a single-use "send me points" request valid for a short window
// @Tags points
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,note=string} true "QR request"
// @Success 200 {object} object{code=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /points/qr [post]
func (h *PointsHandler) GenerateTransferQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if h.qr == nil {
		services.SendErrorResponse(w, "Transfer QR is unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	var req struct {
		Amount int64  `json:"amount" validate:"required,gt=0"`
		Note   string `json:"note" validate:"max=255"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}

	code, qrImage, err := h.qr.GenerateTransferQR(r.Context(), userID, req.Amount, req.Note)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"qrImage": qrImage,
	})
}

// RedeemTransferQR pays a scanned transfer request
// @Summary Redeem transfer QR
// @Description Resolve a scanned code and transfer the requested points from the authenticated user
// @Tags points
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Redeem request"
// @Success 200 {object} models.TransferResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /points/qr/redeem [post]
func (h *PointsHandler) RedeemTransferQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if h.qr == nil {
		services.SendErrorResponse(w, "Transfer QR is unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	var req struct {
		Code string `json:"code" validate:"required"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.qr.RedeemTransferQR(r.Context(), userID, req.Code)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// CacheStats exposes balance-cache introspection
// @Summary Balance cache stats
// @Description Current cache size, TTL and cached account ids
// @Tags points
// @Produce json
// @Security BearerAuth
// @Success 200 {object} cache.Stats
// @Router /points/cache/stats [get]
func (h *PointsHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.points.CacheStats(r.Context()))
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
