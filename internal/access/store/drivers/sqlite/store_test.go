package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestUsageCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.UsageRecord{
		Identity:    "alice@example.com",
		Role:        domain.RoleFree,
		Count:       1,
		LastReset:   now.Truncate(24 * time.Hour),
		LastUpdated: now,
	}

	_, err := s.Usage().GetUsage(ctx, rec.Identity)
	require.ErrorIs(t, err, store.ErrNotFound)

	saved, err := s.Usage().SaveUsage(ctx, rec, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, saved.Version)

	t.Run("second insert loses", func(t *testing.T) {
		_, err := s.Usage().SaveUsage(ctx, rec, 0)
		require.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("update with current version wins", func(t *testing.T) {
		saved.Count = 2
		next, err := s.Usage().SaveUsage(ctx, saved, saved.Version)
		require.NoError(t, err)
		require.EqualValues(t, 2, next.Version)

		got, err := s.Usage().GetUsage(ctx, rec.Identity)
		require.NoError(t, err)
		require.Equal(t, 2, got.Count)
		require.Equal(t, rec.LastReset, got.LastReset)
		require.EqualValues(t, 2, got.Version)
	})

	t.Run("update with stale version loses", func(t *testing.T) {
		saved.Count = 5
		_, err := s.Usage().SaveUsage(ctx, saved, 1)
		require.ErrorIs(t, err, store.ErrConflict)

		got, err := s.Usage().GetUsage(ctx, rec.Identity)
		require.NoError(t, err)
		require.Equal(t, 2, got.Count)
	})
}

func TestUsageCorruptRow(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (identity, role, count, last_reset, last_updated, version)
		VALUES ('bob@example.com', 'free', 3, 'not-a-date', 'not-a-date', 4)`)
	require.NoError(t, err)

	_, err = s.Usage().GetUsage(ctx, "bob@example.com")
	require.ErrorIs(t, err, store.ErrCorrupt)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repaired, err := s.Usage().OverwriteUsage(ctx, domain.UsageRecord{
		Identity:    "bob@example.com",
		Role:        domain.RoleFree,
		LastReset:   now,
		LastUpdated: now,
	})
	require.NoError(t, err)
	require.EqualValues(t, 5, repaired.Version)

	got, err := s.Usage().GetUsage(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Equal(t, 0, got.Count)
}

func TestUsageNonIntegerCount(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.Usage().SaveUsage(ctx, domain.UsageRecord{
		Identity: "carol@example.com", Role: domain.RoleFree, Count: 2,
		LastReset: now.Truncate(24 * time.Hour), LastUpdated: now,
	}, 0)
	require.NoError(t, err)

	for _, bad := range []string{`'garbage'`, `2.5`} {
		_, err = s.db.ExecContext(ctx, `UPDATE usage_records SET count = `+bad+` WHERE identity = 'carol@example.com'`)
		require.NoError(t, err)
		_, err = s.Usage().GetUsage(ctx, "carol@example.com")
		require.ErrorIs(t, err, store.ErrCorrupt, "count = %s", bad)
	}
}

func TestUsageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gatekeep.db")

	first, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, first.ApplyMigrations())

	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	_, err = first.Usage().SaveUsage(ctx, domain.UsageRecord{
		Identity: "carol@example.com", Role: domain.RoleFree, Count: 7,
		LastReset: now.Truncate(24 * time.Hour), LastUpdated: now,
	}, 0)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.ApplyMigrations())

	got, err := second.Usage().GetUsage(ctx, "carol@example.com")
	require.NoError(t, err)
	require.Equal(t, 7, got.Count)
	require.Equal(t, now, got.LastUpdated)
}

func TestAuditQuery(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []domain.AuditEntry{
		{ID: "01", Actor: "a@x.com", Action: domain.ActionRoleChange, Target: "b@x.com", Timestamp: base, Success: true, Hash: "h1"},
		{ID: "02", Actor: "a@x.co", Action: domain.ActionRoleChange, Target: "b@x.com", Timestamp: base.Add(time.Minute), Success: true, Hash: "h2"},
		{ID: "03", Actor: "a@x.com", Action: domain.ActionUserDeletion, Target: "c@x.com", Timestamp: base.Add(2 * time.Minute), Hash: "h3",
			Details: map[string]string{"reason": "spam"}},
		{ID: "04", Actor: "a@x.com", Action: domain.ActionRoleChange, Timestamp: base.Add(48 * time.Hour), Success: true, Hash: "h4"},
	}
	for _, e := range entries {
		require.NoError(t, s.Audit().AppendAudit(ctx, e))
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := s.Audit().QueryAudit(ctx, domain.AuditFilter{})
		require.NoError(t, err)
		require.Len(t, got, 4)
		require.Equal(t, "04", got[0].ID)
		require.Equal(t, "01", got[3].ID)
	})

	t.Run("actor is exact", func(t *testing.T) {
		got, err := s.Audit().QueryAudit(ctx, domain.AuditFilter{Actor: "a@x.com"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		for _, e := range got {
			require.Equal(t, "a@x.com", e.Actor)
		}
	})

	t.Run("filters intersect", func(t *testing.T) {
		got, err := s.Audit().QueryAudit(ctx, domain.AuditFilter{
			Actor:  "a@x.com",
			Action: domain.ActionRoleChange,
			From:   base,
			To:     base.Add(time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "01", got[0].ID)
	})

	t.Run("limit and details", func(t *testing.T) {
		got, err := s.Audit().QueryAudit(ctx, domain.AuditFilter{Target: "c@x.com", Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, map[string]string{"reason": "spam"}, got[0].Details)
		require.False(t, got[0].Success)
	})

	t.Run("last and scan follow append order", func(t *testing.T) {
		last, err := s.Audit().LastAudit(ctx)
		require.NoError(t, err)
		require.Equal(t, "h4", last.Hash)

		var ids []string
		require.NoError(t, s.Audit().ScanAudit(ctx, func(e domain.AuditEntry) bool {
			ids = append(ids, e.ID)
			return true
		}))
		require.Equal(t, []string{"01", "02", "03", "04"}, ids)

		n, err := s.Audit().CountAudit(ctx)
		require.NoError(t, err)
		require.Equal(t, 4, n)
	})

	t.Run("rows are append-only", func(t *testing.T) {
		_, err := s.db.ExecContext(ctx, `UPDATE audit_log SET actor = 'mallory' WHERE id = '01'`)
		require.Error(t, err)
		_, err = s.db.ExecContext(ctx, `DELETE FROM audit_log`)
		require.Error(t, err)
	})
}

func TestUsersRepo(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	u := domain.User{
		Identity:     "dana@example.com",
		DisplayName:  "Dana",
		Role:         domain.RolePremium,
		PremiumUntil: &until,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.Users().CreateUser(ctx, u))
	require.ErrorIs(t, s.Users().CreateUser(ctx, u), store.ErrAlreadyExists)

	got, err := s.Users().GetUser(ctx, u.Identity)
	require.NoError(t, err)
	require.Equal(t, "Dana", got.DisplayName)
	require.NotNil(t, got.PremiumUntil)
	require.Equal(t, until, *got.PremiumUntil)

	expired, err := s.Users().ListExpiredPremium(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)

	expired, err = s.Users().ListExpiredPremium(ctx, now)
	require.NoError(t, err)
	require.Empty(t, expired)

	require.NoError(t, s.Users().UpdateRole(ctx, u.Identity, domain.RoleFree, nil))
	require.NoError(t, s.Users().SetDisabled(ctx, u.Identity, true))
	require.NoError(t, s.Users().TouchLogin(ctx, u.Identity, now))

	got, err = s.Users().GetUser(ctx, u.Identity)
	require.NoError(t, err)
	require.Equal(t, domain.RoleFree, got.Role)
	require.Nil(t, got.PremiumUntil)
	require.True(t, got.Disabled)
	require.NotNil(t, got.LastLogin)

	require.NoError(t, s.Users().DeleteUser(ctx, u.Identity))
	require.ErrorIs(t, s.Users().DeleteUser(ctx, u.Identity), store.ErrNotFound)
	_, err = s.Users().GetUser(ctx, u.Identity)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Users().CreateUser(ctx, domain.User{
			Identity: "eve@example.com", Role: domain.RoleFree, CreatedAt: now, UpdatedAt: now,
		}))
		return store.ErrConflict
	})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.Users().GetUser(ctx, "eve@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)
}
