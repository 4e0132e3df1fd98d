package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
	"github.com/google/uuid"
)

const (
	DefaultAuditQueryLimit = 100
	MaxAuditQueryLimit     = 1000
)

// ExportColumns is the fixed CSV header written by Export.
var ExportColumns = []string{"timestamp", "actor", "action", "target", "success", "details", "correlationId"}

// ErrUnknownRange is returned by DateRange for names it does not know.
var ErrUnknownRange = errors.New("unknown date range")

// AuditLog is the append-only, hash-chained trail of privileged actions.
type AuditLog struct {
	Store        store.Store
	Clock        Clock
	Logger       *slog.Logger
	StoreTimeout time.Duration

	// mu keeps the hash chain linear within this process.
	mu sync.Mutex
}

func NewAuditLog(s store.Store, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuditLog{
		Store:        s,
		Clock:        SystemClock{},
		Logger:       slogx.Component(logger, "audit"),
		StoreTimeout: DefaultStoreTimeout,
	}
}

// Append stores e and reports whether it was persisted. ID, Timestamp and the
// hash chain fields are always assigned here; CorrelationID is taken from e,
// then ctx, then generated. Failures are logged and never propagate.
func (a *AuditLog) Append(ctx context.Context, e domain.AuditEntry) bool {
	if !domain.KnownAuditAction(e.Action) {
		a.Logger.Error("refusing audit entry with unknown action", "action", e.Action, "actor", e.Actor)
		return false
	}
	if e.Actor == "" {
		e.Actor = "anonymous"
	}
	if e.CorrelationID == "" {
		e.CorrelationID = slogx.CorrelationID(ctx)
	}
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.NewString()
	}
	if e.Details == nil {
		e.Details = map[string]string{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e.Timestamp = clockOrSystem(a.Clock).Now().UTC().Truncate(time.Microsecond)
	e.ID = idx.NewAt(e.Timestamp).String()

	ctx, cancel := withTimeout(ctx, a.StoreTimeout)
	defer cancel()

	prev, err := a.Store.Audit().LastAudit(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.Logger.Error("audit append failed", "action", e.Action, "actor", e.Actor, "error", err)
		return false
	}
	e.PrevHash = prev.Hash

	payload, err := canonicalEntry(e)
	if err != nil {
		a.Logger.Error("audit entry not encodable", "action", e.Action, "error", err)
		return false
	}
	e.Hash = cryptox.ChainHash(e.PrevHash, payload)

	if err := a.Store.Audit().AppendAudit(ctx, e); err != nil {
		a.Logger.Error("audit append failed", "action", e.Action, "actor", e.Actor, "error", err)
		return false
	}
	return true
}

// Query returns entries matching f, newest first. The caller needs the
// manage-users capability; a refusal is itself audited.
func (a *AuditLog) Query(ctx context.Context, caller Caller, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	if !callerCan(caller, domain.CapManageUsers) {
		recordDenied(ctx, a, caller, "audit.query")
		return nil, domain.ErrUnauthorized
	}

	f.Limit = clampLimit(f.Limit)
	return a.query(ctx, f)
}

// Export writes the entries matching f as CSV to sink and returns the number
// of rows written. A zero f.Limit exports everything.
func (a *AuditLog) Export(ctx context.Context, caller Caller, f domain.AuditFilter, sink io.Writer) (int, error) {
	if !callerCan(caller, domain.CapManageUsers) {
		recordDenied(ctx, a, caller, "audit.export")
		return 0, domain.ErrUnauthorized
	}

	entries, err := a.query(ctx, f)
	if err != nil {
		return 0, err
	}

	w := csv.NewWriter(sink)
	if err := w.Write(ExportColumns); err != nil {
		return 0, err
	}
	for _, e := range entries {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return 0, err
		}
		row := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Actor,
			string(e.Action),
			e.Target,
			strconv.FormatBool(e.Success),
			string(details),
			e.CorrelationID,
		}
		if err := w.Write(row); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}

	a.Append(ctx, domain.AuditEntry{
		Actor:   callerName(caller),
		Action:  domain.ActionAuditExport,
		Success: true,
		Details: map[string]string{"rows": strconv.Itoa(len(entries))},
	})
	return len(entries), nil
}

func (a *AuditLog) query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	ctx, cancel := withTimeout(ctx, a.StoreTimeout)
	defer cancel()

	entries, err := a.Store.Audit().QueryAudit(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return entries, nil
}

// ChainReport summarises a walk over the audit chain.
type ChainReport struct {
	Checked int
	// Forks counts entries whose PrevHash is not the hash of the entry
	// stored before them. This happens when several processes append
	// concurrently and is not tampering on its own.
	Forks int
	// BrokenAt is the ID of the first entry whose content no longer
	// matches its hash. Empty when the chain is intact.
	BrokenAt string
}

func (r ChainReport) Intact() bool { return r.BrokenAt == "" }

// VerifyChain recomputes every entry's hash, oldest first.
func (a *AuditLog) VerifyChain(ctx context.Context) (ChainReport, error) {
	var (
		report ChainReport
		prev   string
		encErr error
	)
	err := a.Store.Audit().ScanAudit(ctx, func(e domain.AuditEntry) bool {
		report.Checked++
		if e.PrevHash != prev {
			report.Forks++
		}
		prev = e.Hash

		payload, err := canonicalEntry(e)
		if err != nil {
			encErr = err
			return false
		}
		if !cryptox.VerifyChainHash(e.PrevHash, payload, e.Hash) {
			report.BrokenAt = e.ID
			return false
		}
		return true
	})
	if err != nil {
		return report, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return report, encErr
}

// DateRange turns a named range into a From/To pair ending at now.
func DateRange(name string, now time.Time) (from, to time.Time, err error) {
	now = now.UTC()
	switch name {
	case "", "all":
		return time.Time{}, time.Time{}, nil
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), now, nil
	case "week":
		return now.Add(-7 * 24 * time.Hour), now, nil
	case "month":
		return now.Add(-30 * 24 * time.Hour), now, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownRange, name)
	}
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultAuditQueryLimit
	case n > MaxAuditQueryLimit:
		return MaxAuditQueryLimit
	default:
		return n
	}
}

// canonicalEntry is the byte form covered by an entry's hash. Field order is
// fixed and details keys are sorted by encoding/json.
func canonicalEntry(e domain.AuditEntry) ([]byte, error) {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	return json.Marshal(struct {
		ID            string            `json:"id"`
		Actor         string            `json:"actor"`
		Action        string            `json:"action"`
		Target        string            `json:"target"`
		Timestamp     string            `json:"timestamp"`
		Success       bool              `json:"success"`
		Details       map[string]string `json:"details"`
		CorrelationID string            `json:"correlationId"`
	}{
		ID:            e.ID,
		Actor:         e.Actor,
		Action:        string(e.Action),
		Target:        e.Target,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		Success:       e.Success,
		Details:       details,
		CorrelationID: e.CorrelationID,
	})
}

// recordDenied appends the access-denied entry for a refused operation.
func recordDenied(ctx context.Context, auditor Auditor, caller Caller, operation string) {
	if auditor == nil {
		return
	}
	auditor.Append(ctx, domain.AuditEntry{
		Actor:   callerName(caller),
		Action:  domain.ActionAccessDenied,
		Success: false,
		Details: map[string]string{"operation": operation},
	})
}
