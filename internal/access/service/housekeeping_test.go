package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/stretchr/testify/require"
)

func TestHousekeepingExpiresPremium(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	audit := newAuditLog(t, s, clock)

	lapsed := clock.Now().Add(-time.Minute)
	valid := clock.Now().Add(time.Hour)
	for id, until := range map[string]time.Time{"old@x.com": lapsed, "new@x.com": valid} {
		require.NoError(t, s.Users().CreateUser(ctx, domain.User{
			Identity: id, Role: domain.RolePremium, PremiumUntil: &until,
			CreatedAt: clock.Now(), UpdatedAt: clock.Now(),
		}))
	}

	hk := NewHousekeepingService(s, audit, slog.New(slog.DiscardHandler), 0)
	hk.Clock = clock
	require.Equal(t, time.Hour, hk.Interval)

	hk.RunOnce(ctx)

	old, err := s.Users().GetUser(ctx, "old@x.com")
	require.NoError(t, err)
	require.Equal(t, domain.RoleFree, old.Role)

	fresh, err := s.Users().GetUser(ctx, "new@x.com")
	require.NoError(t, err)
	require.Equal(t, domain.RolePremium, fresh.Role)

	entries, err := s.Audit().QueryAudit(ctx, domain.AuditFilter{Actor: "system"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "old@x.com", entries[0].Target)
	require.Equal(t, "expired", entries[0].Details["reason"])
}

func TestHousekeepingStartStop(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	hk := NewHousekeepingService(s, NewAuditLog(s, nil), slog.New(slog.DiscardHandler), time.Hour)
	hk.Start()
	hk.Stop()
}
