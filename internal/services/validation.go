package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error          string            `json:"error"`                    // Error message
	Details        map[string]string `json:"details,omitempty"`        // Validation details
	CurrentBalance *int64            `json:"currentBalance,omitempty"` // Set for insufficient-balance errors
	RequiredAmount *int64            `json:"requiredAmount,omitempty"`
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendLedgerError maps a ledger error to its HTTP status and payload. Every
// error kind keeps a stable status so clients can branch on it.
func SendLedgerError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientBalanceError
	var storage *StorageError

	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.As(err, &insufficient):
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:          "insufficient points balance",
			CurrentBalance: &insufficient.CurrentBalance,
			RequiredAmount: &insufficient.RequiredAmount,
		})
	case errors.Is(err, ErrAccountNotFound):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTransfer), errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrInvalidTransferCode):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrAlreadyCheckedIn):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
	case errors.As(err, &storage):
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "storage temporarily unavailable, please retry"})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "internal error"})
	}
}
