package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// apiError maps a service error onto the error response the client sees.
func apiError(err error) *gatekeepsdk.APIError {
	switch {
	case errors.Is(err, domain.ErrUnknownRole):
		return gatekeepsdk.ErrUnknownRole.WithDescription(err.Error())
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, service.ErrUnknownRange):
		return gatekeepsdk.ErrInvalidRequest.WithDescription(err.Error())
	case errors.Is(err, domain.ErrNotAuthenticated):
		return gatekeepsdk.ErrNotAuthenticated
	case errors.Is(err, domain.ErrGuestNotAllowed):
		return gatekeepsdk.ErrGuestNotAllowed
	case errors.Is(err, domain.ErrUnauthorized):
		return gatekeepsdk.ErrAccessDenied
	case errors.Is(err, domain.ErrUserDisabled):
		return gatekeepsdk.ErrAccountDisabled
	case errors.Is(err, domain.ErrProtectedUser):
		return gatekeepsdk.ErrProtectedAccount
	case errors.Is(err, domain.ErrUserNotFound):
		return gatekeepsdk.ErrNotFound.WithDescription("user not found")
	case errors.Is(err, domain.ErrUserExists):
		return gatekeepsdk.ErrConflict.WithDescription("user already exists")
	case errors.Is(err, domain.ErrQuotaExceeded):
		return gatekeepsdk.ErrQuotaExceeded
	case errors.Is(err, domain.ErrRateLimited):
		return gatekeepsdk.ErrRateLimited
	case errors.Is(err, domain.ErrPaymentDeclined):
		return gatekeepsdk.ErrPaymentDeclined
	case errors.Is(err, domain.ErrPaymentsDisabled):
		return gatekeepsdk.ErrPaymentsDisabled
	case errors.Is(err, domain.ErrStoreUnavailable):
		return gatekeepsdk.ErrStoreUnavailable
	default:
		return gatekeepsdk.ErrServerError
	}
}

// writeError logs err and writes the mapped error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())
	e := apiError(err)
	switch {
	case errors.Is(err, domain.ErrInvariant):
		log.Error("invariant violated", "error", err)
	case e.StatusCode >= http.StatusInternalServerError:
		log.Error("request failed", "error", err, "code", e.Code)
	default:
		log.Debug("request rejected", "error", err, "code", e.Code)
	}
	e.WriteError(w)
}
