package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/paygrid/settlecore/internal/models"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Reason  models.ErrorKind  `json:"reason,omitempty"`  // Machine-readable kind
	Details map[string]string `json:"details,omitempty"` // Validation details
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

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// statusForKind maps a rejection kind to the HTTP status the caller sees.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindAccountNotFound:
		return http.StatusNotFound
	case models.KindInsufficientFunds,
		models.KindAccountClosed,
		models.KindAccountFrozen,
		models.KindCurrencyMismatch,
		models.KindInvalidAmount,
		models.KindValidationFailed,
		models.KindOutsideWindow:
		return http.StatusUnprocessableEntity
	case models.KindDuplicateInFlight:
		return http.StatusConflict
	case models.KindChannelUnavail, models.KindChannelTimeout:
		return http.StatusBadGateway
	case models.KindChannelRejected:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
