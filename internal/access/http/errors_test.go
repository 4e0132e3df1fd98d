package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: %q", domain.ErrUnknownRole, "root"), http.StatusBadRequest, "unknown_role"},
		{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_request"},
		{service.ErrUnknownRange, http.StatusBadRequest, "invalid_request"},
		{domain.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
		{domain.ErrGuestNotAllowed, http.StatusForbidden, "guest_not_allowed"},
		{domain.ErrUnauthorized, http.StatusForbidden, "access_denied"},
		{domain.ErrUserDisabled, http.StatusForbidden, "account_disabled"},
		{domain.ErrProtectedUser, http.StatusForbidden, "protected_account"},
		{domain.ErrUserNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrUserExists, http.StatusConflict, "conflict"},
		{domain.ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{domain.ErrPaymentDeclined, http.StatusPaymentRequired, "payment_declined"},
		{domain.ErrPaymentsDisabled, http.StatusServiceUnavailable, "payments_disabled"},
		{fmt.Errorf("%w: timeout", domain.ErrStoreUnavailable), http.StatusServiceUnavailable, "store_unavailable"},
		{domain.ErrInvariant, http.StatusInternalServerError, "server_error"},
		{fmt.Errorf("anything else"), http.StatusInternalServerError, "server_error"},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			e := apiError(tc.err)
			require.Equal(t, tc.status, e.StatusCode)
			require.Equal(t, tc.code, e.Code)
		})
	}
}

func TestWriteErrorHidesInternals(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rec, req, fmt.Errorf("%w: usage row for a@x.com has role %q", domain.ErrInvariant, "root"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.NotContains(t, rec.Body.String(), "a@x.com")
}
