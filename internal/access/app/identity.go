package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/gatekeep/internal/access/identity"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
)

// devKeyID is the kid of tokens minted by the dev identity provider.
const devKeyID = "gatekeep-dev-001"

// InitIdentity builds the token verifier for the configured identity mode.
//
// Modes:
//   - "jwks": trust the public keys the identity provider publishes in
//     JWKSFile. The file is re-read on Reload.
//   - "dev": trust a local Ed25519 key stored in DevKeyFile, generated on
//     first start. Tokens can be minted with `gatekeep mint-token`.
func InitIdentity(cfg Config, logger *slog.Logger) (*identity.JWTProvider, error) {
	switch cfg.IdentityMode {
	case "jwks":
		p, err := identity.NewJWKSProvider(cfg.JWKSFile, cfg.Issuer, cfg.Audience)
		if err != nil {
			return nil, fmt.Errorf("failed to load identity provider keys: %w", err)
		}
		logger.Info("identity provider keys loaded",
			"jwks_file", cfg.JWKSFile,
			"keys", len(p.JWKS().Keys),
			"issuer", cfg.Issuer,
		)
		return p, nil

	case "dev":
		pemKey, err := cryptox.LoadOrCreateEd25519Key(cfg.DevKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load dev identity key: %w", err)
		}
		p, err := identity.NewDevProvider(devKeyID, pemKey, cfg.Issuer, cfg.Audience)
		if err != nil {
			return nil, err
		}
		logger.Warn("using dev identity provider, do not use in production",
			"key_file", cfg.DevKeyFile,
			"kid", devKeyID,
		)
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported identity mode: %s", cfg.IdentityMode)
	}
}
