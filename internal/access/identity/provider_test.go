package identity_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/identity"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

const issuer = "https://identity.example"

func newDevProvider(t *testing.T) *identity.JWTProvider {
	t.Helper()
	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	p, err := identity.NewDevProvider("dev-1", pemKey, issuer, []string{"gatekeep"})
	require.NoError(t, err)
	return p
}

func TestDevProviderRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newDevProvider(t)
	require.True(t, p.Ready())

	token, err := p.Mint("alice@example.com", "Alice", "premium", time.Minute)
	require.NoError(t, err)

	claims, err := p.Identify(ctx, token)
	require.NoError(t, err)
	require.Equal(t, identity.Claims{Identity: "alice@example.com", DisplayName: "Alice", Role: "premium"}, claims)

	principal, err := p.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", principal.Identity)
}

func TestProviderRejectsBadTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newDevProvider(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := p.Identify(ctx, "not.a.jwt")
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("foreign key", func(t *testing.T) {
		token, err := newDevProvider(t).Mint("bob@example.com", "", "", time.Minute)
		require.NoError(t, err)
		_, err = p.Identify(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		q := newDevProvider(t)
		token, err := q.Mint("bob@example.com", "", "", time.Minute)
		require.NoError(t, err)

		q.SetNow(func() time.Time { return time.Now().Add(time.Hour) })
		_, err = q.Identify(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})
}

func TestJWKSProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := newDevProvider(t)

	raw, err := json.Marshal(dev.JWKS())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	p, err := identity.NewJWKSProvider(path, issuer, []string{"gatekeep"})
	require.NoError(t, err)
	require.True(t, p.Ready())

	token, err := dev.Mint("carol@example.com", "Carol", "free", time.Minute)
	require.NoError(t, err)
	claims, err := p.Identify(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "carol@example.com", claims.Identity)

	_, err = p.Mint("x", "", "", time.Minute)
	require.Error(t, err)

	t.Run("bad reload keeps the old keys", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(`{"keys":[]}`), 0o600))
		require.Error(t, p.Reload())
		_, err := p.Identify(ctx, token)
		require.NoError(t, err)
	})

	_, err = identity.NewJWKSProvider(filepath.Join(t.TempDir(), "missing.json"), issuer, nil)
	require.Error(t, err)
}
