package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func newAuditLog(t *testing.T, s store.Store, clock Clock) *AuditLog {
	t.Helper()
	a := NewAuditLog(s, nil)
	a.Clock = clock
	return a
}

func TestAuditAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC))
	log := newAuditLog(t, s, clock)

	ctx = slogx.WithCorrelationID(ctx, "corr-1")
	require.True(t, log.Append(ctx, domain.AuditEntry{
		Actor:  "admin@example.com",
		Action: domain.ActionUserCreation,
		Target: "new@example.com",
		// Ignored: the log assigns its own timestamp.
		Timestamp: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
		Success:   true,
	}))

	last, err := s.Audit().LastAudit(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, last.ID)
	require.Equal(t, "corr-1", last.CorrelationID)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC), last.Timestamp)
	require.Empty(t, last.PrevHash)
	require.NotEmpty(t, last.Hash)

	clock.Advance(time.Second)
	require.True(t, log.Append(context.Background(), domain.AuditEntry{Actor: "admin@example.com", Action: domain.ActionUserUpdate}))

	second, err := s.Audit().LastAudit(ctx)
	require.NoError(t, err)
	require.Equal(t, last.Hash, second.PrevHash)
	require.NotEmpty(t, second.CorrelationID)
	require.NotEqual(t, "corr-1", second.CorrelationID)

	t.Run("unknown actions are refused", func(t *testing.T) {
		require.False(t, log.Append(ctx, domain.AuditEntry{Actor: "x", Action: "role_change"}))
	})

	t.Run("store failures only return false", func(t *testing.T) {
		flaky := &flakyStore{Store: s, auditErr: errors.New("disk full")}
		broken := newAuditLog(t, flaky, clock)
		require.False(t, broken.Append(ctx, domain.AuditEntry{Actor: "x", Action: domain.ActionPurchase}))
	})

	report, err := log.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, report.Intact())
	require.Equal(t, 2, report.Checked)
	require.Zero(t, report.Forks)
}

func TestAuditQueryFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	log := newAuditLog(t, s, clock)

	appendAt := func(at time.Time, actor string, action domain.AuditAction, target string) {
		clock.Set(at)
		require.True(t, log.Append(ctx, domain.AuditEntry{Actor: actor, Action: action, Target: target, Success: true}))
	}
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	appendAt(day.Add(9*time.Hour), "a@x.com", domain.ActionRoleChange, "b@x.com")
	appendAt(day.Add(10*time.Hour), "a@x.co", domain.ActionRoleChange, "b@x.com")
	appendAt(day.Add(11*time.Hour), "a@x.com", domain.ActionUserDeletion, "c@x.com")
	appendAt(day.Add(35*time.Hour), "a@x.com", domain.ActionRoleChange, "d@x.com")

	admin := adminCaller("root@x.com")

	t.Run("actor match is exact", func(t *testing.T) {
		got, err := log.Query(ctx, admin, domain.AuditFilter{Actor: "a@x.com"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		for _, e := range got {
			require.Equal(t, "a@x.com", e.Actor)
		}
	})

	t.Run("filters intersect", func(t *testing.T) {
		got, err := log.Query(ctx, admin, domain.AuditFilter{
			Actor:  "a@x.com",
			Action: domain.ActionRoleChange,
			From:   day,
			To:     day.Add(24*time.Hour - time.Nanosecond),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "b@x.com", got[0].Target)
	})

	t.Run("newest first and limited", func(t *testing.T) {
		got, err := log.Query(ctx, admin, domain.AuditFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "d@x.com", got[0].Target)
		require.Equal(t, "c@x.com", got[1].Target)
	})

	t.Run("date ranges", func(t *testing.T) {
		now := day.Add(36 * time.Hour)
		from, to, err := DateRange("today", now)
		require.NoError(t, err)
		got, err := log.Query(ctx, admin, domain.AuditFilter{From: from, To: to})
		require.NoError(t, err)
		require.Len(t, got, 1)

		from, to, err = DateRange("week", now)
		require.NoError(t, err)
		got, err = log.Query(ctx, admin, domain.AuditFilter{From: from, To: to})
		require.NoError(t, err)
		require.Len(t, got, 4)

		from, to, err = DateRange("all", now)
		require.NoError(t, err)
		require.True(t, from.IsZero() && to.IsZero())

		_, _, err = DateRange("fortnight", now)
		require.ErrorIs(t, err, ErrUnknownRange)
	})
}

func TestAuditQueryRequiresManageUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	log := newAuditLog(t, s, newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	require.True(t, log.Append(ctx, domain.AuditEntry{Actor: "a@x.com", Action: domain.ActionRoleChange}))
	before, err := s.Audit().CountAudit(ctx)
	require.NoError(t, err)

	got, err := log.Query(ctx, freeCaller("free@x.com"), domain.AuditFilter{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Empty(t, got)

	after, err := s.Audit().CountAudit(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, after)

	last, err := s.Audit().LastAudit(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.ActionAccessDenied, last.Action)
	require.Equal(t, "free@x.com", last.Actor)
	require.False(t, last.Success)
	require.Equal(t, "audit.query", last.Details["operation"])

	t.Run("anonymous callers", func(t *testing.T) {
		_, err := log.Query(ctx, nil, domain.AuditFilter{})
		require.ErrorIs(t, err, domain.ErrUnauthorized)

		last, err := s.Audit().LastAudit(ctx)
		require.NoError(t, err)
		require.Equal(t, "anonymous", last.Actor)
	})
}

func TestAuditExport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	log := newAuditLog(t, s, clock)

	require.True(t, log.Append(ctx, domain.AuditEntry{
		Actor: "a@x.com", Action: domain.ActionRoleChange, Target: "b@x.com", Success: true,
		Details: map[string]string{"to": "premium", "from": "free"},
	}))
	clock.Advance(time.Minute)
	require.True(t, log.Append(ctx, domain.AuditEntry{Actor: "c@x.com", Action: domain.ActionAccessDenied}))

	var buf bytes.Buffer
	n, err := log.Export(ctx, adminCaller("root@x.com"), domain.AuditFilter{}, &buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, ExportColumns, rows[0])
	require.Equal(t, []string{"2026-03-01T10:00:00Z", "a@x.com", "role-change", "b@x.com", "true", `{"from":"free","to":"premium"}`, rows[2][6]}, rows[2])
	require.Equal(t, "access-denied", rows[1][2])

	last, err := s.Audit().LastAudit(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.ActionAuditExport, last.Action)
	require.Equal(t, "2", last.Details["rows"])

	t.Run("denied export writes nothing", func(t *testing.T) {
		var out bytes.Buffer
		n, err := log.Export(ctx, freeCaller("free@x.com"), domain.AuditFilter{}, &out)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		require.Zero(t, n)
		require.Zero(t, out.Len())

		last, err := s.Audit().LastAudit(ctx)
		require.NoError(t, err)
		require.Equal(t, domain.ActionAccessDenied, last.Action)
		require.Equal(t, "audit.export", last.Details["operation"])
	})
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	log := newAuditLog(t, s, clock)

	require.True(t, log.Append(ctx, domain.AuditEntry{Actor: "a@x.com", Action: domain.ActionRoleChange}))

	// An entry written around the log, with a hash that does not cover it.
	last, err := s.Audit().LastAudit(ctx)
	require.NoError(t, err)
	forged := domain.AuditEntry{
		ID: "forged", Actor: "mallory", Action: domain.ActionRoleChange,
		Timestamp: clock.Now(), PrevHash: last.Hash, Hash: last.Hash,
	}
	require.NoError(t, s.Audit().AppendAudit(ctx, forged))

	report, err := log.VerifyChain(ctx)
	require.NoError(t, err)
	require.False(t, report.Intact())
	require.Equal(t, "forged", report.BrokenAt)
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	require.Equal(t, DefaultAuditQueryLimit, clampLimit(0))
	require.Equal(t, 5, clampLimit(5))
	require.Equal(t, MaxAuditQueryLimit, clampLimit(50_000))
}
