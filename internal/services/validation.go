package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type contextKey string

// Context keys populated by the auth middleware.
const (
	ContextUserID contextKey = "userID"
	ContextRole   contextKey = "role"
)

// UserIDFromContext extracts the authenticated user's id from the request
// context.
func UserIDFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(ContextUserID).(int)
	return id, ok
}

// RoleFromContext extracts the authenticated user's role from the request
// context.
func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(ContextRole).(string)
	return role, ok
}

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
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

// SendJSON writes v as a JSON response with the given status code.
func SendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// StatusForError maps the service error taxonomy to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrBookNotFound),
		errors.Is(err, ErrLoanNotFound),
		errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBookUnavailable),
		errors.Is(err, ErrBorrowLimitExceeded),
		errors.Is(err, ErrNotIssued),
		errors.Is(err, ErrBookHasOpenLoans),
		errors.Is(err, ErrQuantityConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
