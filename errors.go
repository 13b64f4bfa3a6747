package crosslogin

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the broker's failure taxonomy. Components return
// these (optionally wrapped) and the HTTP surface maps them to statuses
// via HTTPStatus.
var (
	ErrNotFound        = errors.New("not found")
	ErrExpired         = errors.New("expired")
	ErrNotValid        = errors.New("not valid")
	ErrDuplicateInput  = errors.New("input already registered")
	ErrConflict        = errors.New("conflict")
	ErrLocked          = errors.New("account locked")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrLastInput       = errors.New("cannot remove the only login input")
	ErrNotValidated    = errors.New("input not validated")
)

// Error codes returned in JSON error payloads
const (
	ErrCodeInvalidCreds    = "invalid_credentials"
	ErrCodeInvalidInput    = "invalid_input"
	ErrCodeMissingField    = "missing_field"
	ErrCodeInputExists     = "input_exists"
	ErrCodeCodeExpired     = "code_expired"
	ErrCodeRequestExpired  = "request_expired"
	ErrCodeAccountLocked   = "account_locked"
	ErrCodeUnknownProvider = "unknown_provider"
	ErrCodeConflict        = "conflict"
	ErrCodeLastInput       = "last_input"
	ErrCodeNotValidated    = "not_validated"
	ErrCodeWeakPassword    = "weak_password"
)

// AuthError is a structured error for HTTP payloads
type AuthError struct {
	Code    string `json:"code"`    // Machine-readable error code
	Message string `json:"message"` // Human-readable message
	Field   string `json:"field"`   // Which field caused the error (optional)
}

func (e *AuthError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAuthError creates a new AuthError
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// HTTPStatus maps a broker error to the status an API-style caller
// receives: 404 for absence, 409 for uniqueness or concurrency losses,
// 410 for anything past its TTL, 401 for failed or refused verification.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicateInput):
		return http.StatusConflict
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrNotValid), errors.Is(err, ErrLocked):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// ErrorCode maps a broker error to its JSON payload code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return ErrCodeCodeExpired
	case errors.Is(err, ErrNotValid):
		return ErrCodeInvalidCreds
	case errors.Is(err, ErrDuplicateInput):
		return ErrCodeInputExists
	case errors.Is(err, ErrConflict):
		return ErrCodeConflict
	case errors.Is(err, ErrLocked):
		return ErrCodeAccountLocked
	case errors.Is(err, ErrUnknownProvider):
		return ErrCodeUnknownProvider
	case errors.Is(err, ErrLastInput):
		return ErrCodeLastInput
	case errors.Is(err, ErrNotValidated):
		return ErrCodeNotValidated
	default:
		return ErrCodeInvalidInput
	}
}
