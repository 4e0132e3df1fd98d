package gatekeepsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeInvalidRequest   = "invalid_request"
	ErrorCodeInvalidToken     = "invalid_token"
	ErrorCodeUnknownRole      = "unknown_role"
	ErrorCodeNotAuthenticated = "not_authenticated"
	ErrorCodeGuestNotAllowed  = "guest_not_allowed"
	ErrorCodeAccessDenied     = "access_denied"
	ErrorCodeAccountDisabled  = "account_disabled"
	ErrorCodeProtectedAccount = "protected_account"
	ErrorCodeNotFound         = "not_found"
	ErrorCodeConflict         = "conflict"
	ErrorCodeQuotaExceeded    = "quota_exceeded"
	ErrorCodeRateLimited      = "rate_limit_exceeded"
	ErrorCodePaymentDeclined  = "payment_declined"
	ErrorCodePaymentsDisabled = "payments_disabled"
	ErrorCodeStoreUnavailable = "store_unavailable"
	ErrorCodeServerError      = "server_error"
)

// ============================================================================
// APIError
// ============================================================================

// APIError is an error response. It is used both by the server (to write
// HTTP responses) and by the client (to represent errors).
//
// Two APIErrors match under errors.Is when their codes are equal, so callers
// can compare against the predefined values below.
type APIError struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is the error code (e.g., "quota_exceeded")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is reports whether target is an APIError with the same code.
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WriteError writes this APIError to an HTTP response writer.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}

// WithDescription returns a copy of e with a different description.
func (e *APIError) WithDescription(desc string) *APIError {
	c := *e
	c.Description = desc
	return &c
}

// ============================================================================
// Predefined Errors
// ============================================================================

var (
	// ErrInvalidRequest is returned for malformed bodies and bad parameters.
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrInvalidToken is returned when the bearer token fails verification.
	ErrInvalidToken = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the access token is missing, invalid or expired",
	}

	ErrUnknownRole = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeUnknownRole,
		Description: "unknown role",
	}

	// ErrNotAuthenticated is returned when an operation needs a signed in caller.
	ErrNotAuthenticated = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeNotAuthenticated,
		Description: "sign in required",
	}

	// ErrGuestNotAllowed is returned when guests call an operation that
	// requires an account.
	ErrGuestNotAllowed = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeGuestNotAllowed,
		Description: "guests can not perform this operation",
	}

	// ErrAccessDenied is returned when the caller lacks a capability.
	ErrAccessDenied = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeAccessDenied,
		Description: "access denied",
	}

	ErrAccountDisabled = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeAccountDisabled,
		Description: "account disabled",
	}

	// ErrProtectedAccount is returned when an admin action targets the
	// caller's own account or a protected one.
	ErrProtectedAccount = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeProtectedAccount,
		Description: "operation not allowed on this account",
	}

	ErrNotFound = &APIError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeNotFound,
		Description: "not found",
	}

	ErrConflict = &APIError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeConflict,
		Description: "already exists",
	}

	// ErrQuotaExceeded is returned when the daily arrangement quota is used up.
	ErrQuotaExceeded = &APIError{
		StatusCode:  http.StatusTooManyRequests,
		Code:        ErrorCodeQuotaExceeded,
		Description: "daily arrangement limit reached",
	}

	ErrRateLimited = &APIError{
		StatusCode:  http.StatusTooManyRequests,
		Code:        ErrorCodeRateLimited,
		Description: "too many requests, please try again later",
	}

	ErrPaymentDeclined = &APIError{
		StatusCode:  http.StatusPaymentRequired,
		Code:        ErrorCodePaymentDeclined,
		Description: "payment declined",
	}

	ErrPaymentsDisabled = &APIError{
		StatusCode:  http.StatusServiceUnavailable,
		Code:        ErrorCodePaymentsDisabled,
		Description: "payments are not available",
	}

	// ErrStoreUnavailable is returned when the persistence store can not be
	// reached and the operation must fail closed.
	ErrStoreUnavailable = &APIError{
		StatusCode:  http.StatusServiceUnavailable,
		Code:        ErrorCodeStoreUnavailable,
		Description: "storage temporarily unavailable",
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns an HTTP error response into an *APIError.
// Returns nil if the response indicates success (2xx status code).
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	// Fallback: create generic error from status code
	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
