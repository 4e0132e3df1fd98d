package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// AuditHandler exposes the audit log to administrators.
type AuditHandler struct {
	Sessions *SessionFactory
	Audit    *service.AuditLog
	Clock    service.Clock
}

// HandleList returns matching entries, newest first.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := h.Audit.Query(r.Context(), sess, f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := gatekeepsdk.ListAuditResponse{Entries: make([]gatekeepsdk.AuditEntry, len(entries))}
	for i, e := range entries {
		resp.Entries[i] = gatekeepsdk.AuditEntry{
			ID:            e.ID,
			Actor:         e.Actor,
			Action:        string(e.Action),
			Target:        e.Target,
			Timestamp:     e.Timestamp,
			Success:       e.Success,
			Details:       e.Details,
			CorrelationID: e.CorrelationID,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleExport streams matching entries as CSV.
func (h *AuditHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	f, err := h.filter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Buffered so that a failed export still gets a JSON error response.
	var buf bytes.Buffer
	rows, err := h.Audit.Export(r.Context(), sess, f, &buf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info("audit exported", "rows", rows)

	filename := fmt.Sprintf("audit-%s.csv", h.now().Format("20060102-150405"))
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// filter parses actor, target, action, from, to, range and limit.
func (h *AuditHandler) filter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	f := domain.AuditFilter{
		Actor:  q.Get("actor"),
		Target: q.Get("target"),
		Action: domain.AuditAction(q.Get("action")),
	}
	if f.Action != "" && !domain.KnownAuditAction(f.Action) {
		return f, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidArgument, f.Action)
	}

	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, err
	}
	if f.From.IsZero() && f.To.IsZero() {
		if f.From, f.To, err = service.DateRange(q.Get("range"), h.now()); err != nil {
			return f, err
		}
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: bad limit %q", domain.ErrInvalidArgument, s)
		}
		f.Limit = n
	}
	return f, nil
}

func (h *AuditHandler) now() time.Time {
	if h.Clock == nil {
		return time.Now().UTC()
	}
	return h.Clock.Now()
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", domain.ErrInvalidArgument, s)
	}
	return t.UTC(), nil
}
