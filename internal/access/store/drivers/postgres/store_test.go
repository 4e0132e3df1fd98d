package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway postgres container and returns a migrated store.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "gatekeep",
			"POSTGRES_PASSWORD": "gatekeep",
			"POSTGRES_DB":       "gatekeep",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://gatekeep:gatekeep@%s:%s/gatekeep?sslmode=disable", host, port.Port())

	s, err := NewStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	// Applying twice is a no-op.
	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestPostgresStore(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("usage compare and swap", func(t *testing.T) {
		rec := domain.UsageRecord{
			Identity: "alice@example.com", Role: domain.RoleFree, Count: 1,
			LastReset: now.Truncate(24 * time.Hour), LastUpdated: now,
		}
		saved, err := s.Usage().SaveUsage(ctx, rec, 0)
		require.NoError(t, err)
		require.EqualValues(t, 1, saved.Version)

		_, err = s.Usage().SaveUsage(ctx, rec, 0)
		require.ErrorIs(t, err, store.ErrConflict)

		saved.Count = 2
		saved, err = s.Usage().SaveUsage(ctx, saved, 1)
		require.NoError(t, err)
		require.EqualValues(t, 2, saved.Version)

		_, err = s.Usage().SaveUsage(ctx, saved, 1)
		require.ErrorIs(t, err, store.ErrConflict)

		got, err := s.Usage().GetUsage(ctx, rec.Identity)
		require.NoError(t, err)
		require.Equal(t, 2, got.Count)
		require.True(t, rec.LastReset.Equal(got.LastReset))
	})

	t.Run("invalid usage rows read as corrupt", func(t *testing.T) {
		rec := domain.UsageRecord{
			Identity: "erin@example.com", Role: domain.RoleFree, Count: 1,
			LastReset: now.Truncate(24 * time.Hour), LastUpdated: now,
		}
		_, err := s.Usage().SaveUsage(ctx, rec, 0)
		require.NoError(t, err)

		for _, set := range []string{`role = ''`, `last_reset = '-infinity'`} {
			_, err = s.pool.Exec(ctx, `UPDATE usage_records SET `+set+` WHERE identity = $1`, rec.Identity)
			require.NoError(t, err)
			_, err = s.Usage().GetUsage(ctx, rec.Identity)
			require.ErrorIs(t, err, store.ErrCorrupt, set)

			_, err = s.Usage().OverwriteUsage(ctx, rec)
			require.NoError(t, err)
		}

		got, err := s.Usage().GetUsage(ctx, rec.Identity)
		require.NoError(t, err)
		require.EqualValues(t, 3, got.Version)
	})

	t.Run("audit is newest first and append-only", func(t *testing.T) {
		for i, actor := range []string{"a@x.com", "b@x.com", "a@x.com"} {
			require.NoError(t, s.Audit().AppendAudit(ctx, domain.AuditEntry{
				ID:        fmt.Sprintf("id-%d", i),
				Actor:     actor,
				Action:    domain.ActionRoleChange,
				Timestamp: now.Add(time.Duration(i) * time.Minute),
				Success:   true,
				Details:   map[string]string{"n": fmt.Sprint(i)},
				Hash:      fmt.Sprintf("h%d", i),
			}))
		}

		got, err := s.Audit().QueryAudit(ctx, domain.AuditFilter{Actor: "a@x.com", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "id-2", got[0].ID)
		require.Equal(t, "2", got[0].Details["n"])

		_, err = s.pool.Exec(ctx, `DELETE FROM audit_log`)
		require.Error(t, err)
	})

	t.Run("users", func(t *testing.T) {
		until := now.Add(time.Hour)
		u := domain.User{Identity: "dana@example.com", Role: domain.RolePremium, PremiumUntil: &until, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, s.Users().CreateUser(ctx, u))
		require.ErrorIs(t, s.Users().CreateUser(ctx, u), store.ErrAlreadyExists)

		expired, err := s.Users().ListExpiredPremium(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, expired, 1)

		require.NoError(t, s.Users().UpdateRole(ctx, u.Identity, domain.RoleFree, nil))
		got, err := s.Users().GetUser(ctx, u.Identity)
		require.NoError(t, err)
		require.Equal(t, domain.RoleFree, got.Role)
		require.Nil(t, got.PremiumUntil)

		require.NoError(t, s.Users().DeleteUser(ctx, u.Identity))
		_, err = s.Users().GetUser(ctx, u.Identity)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
