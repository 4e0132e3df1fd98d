package domain

import "errors"

// Domain-level error kinds. All of them are recoverable by the caller except
// ErrInvariant, which signals inconsistent persisted state.
var (
	ErrUnknownRole      = errors.New("unknown role")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAlreadyLoggedIn  = errors.New("session already logged in")
	ErrGuestNotAllowed  = errors.New("guest not allowed")
	ErrQuotaExceeded    = errors.New("daily quota exceeded")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrUserDisabled     = errors.New("user disabled")
	ErrProtectedUser    = errors.New("operation not allowed on this account")
	ErrPaymentDeclined  = errors.New("payment declined")
	ErrPaymentsDisabled = errors.New("payments disabled")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvariant        = errors.New("internal invariant violated")
)
