package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
)

// PurchaseHandler sells premium plans.
type PurchaseHandler struct {
	Sessions  *SessionFactory
	Purchases *service.PurchaseService
}

func (h *PurchaseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req gatekeepsdk.PurchaseRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		gatekeepsdk.ErrInvalidRequest.WithDescription("invalid JSON body").WriteError(w)
		return
	}
	req.Plan = strings.TrimSpace(req.Plan)
	if req.Plan == "" {
		gatekeepsdk.ErrInvalidRequest.WithDescription("plan is required").WriteError(w)
		return
	}

	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Purchases.Purchase(r.Context(), sess, req.Plan)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, gatekeepsdk.PurchaseResponse{
		TransactionID: res.TransactionID,
		Plan:          res.Plan.Name,
		Amount:        res.Plan.Amount(),
		Currency:      res.Plan.Currency,
		Role:          string(sess.Role().Name),
		PremiumUntil:  res.PremiumUntil,
	})
}
