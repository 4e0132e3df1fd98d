package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// UsageHandler serves the arrangement quota endpoints.
type UsageHandler struct {
	Sessions *SessionFactory
	Usage    *service.UsageTracker
}

// HandleGet returns the caller's quota without consuming any of it.
func (h *UsageHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	info, err := h.Usage.GetUsageInfo(r.Context(), sess, sess.Identity())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, usageResponse(info))
}

// HandleCanArrange reports whether one more arrangement fits today's quota.
// Guests get a plain false.
func (h *UsageHandler) HandleCanArrange(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess.IsGuest() {
		httpx.WriteJSON(w, http.StatusOK, gatekeepsdk.CanArrangeResponse{Allowed: false})
		return
	}

	ok, err := h.Usage.CanArrange(r.Context(), sess, sess.Identity())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, gatekeepsdk.CanArrangeResponse{Allowed: ok})
}

// HandleRecord charges an arrangement when the submitted order differs from
// the baseline.
func (h *UsageHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req gatekeepsdk.ArrangementRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		gatekeepsdk.ErrInvalidRequest.WithDescription("invalid JSON body").WriteError(w)
		return
	}

	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Usage.RecordArrangementIfChanged(ctx, sess, sess.Identity(), req.Baseline, req.Current)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Recorded {
		log.Info("arrangement recorded", "remaining", res.Remaining)
	}

	httpx.WriteJSON(w, http.StatusOK, gatekeepsdk.ArrangementResponse{
		Recorded:  res.Recorded,
		Remaining: res.Remaining,
	})
}
