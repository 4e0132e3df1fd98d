// Package identity verifies bearer tokens issued by the external identity
// provider and turns them into caller claims.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims is what the provider asserts about a caller.
type Claims struct {
	Identity    string
	DisplayName string
	// Role is the role claim. It may be empty; the persisted user record
	// takes precedence over it.
	Role string
}

// Provider verifies a token and returns the caller's claims.
type Provider interface {
	Identify(ctx context.Context, token string) (Claims, error)
}

// JWTProvider verifies EdDSA-signed JWTs against a key set.
type JWTProvider struct {
	Issuer   string
	Audience []string

	keys     *jwtx.KeySet
	verifier *jwtx.EdDSAVerifier
	jwksPath string

	// signer is only set for dev providers.
	signer jwtx.Signer
}

// NewJWKSProvider trusts the keys published in a JWKS file.
func NewJWKSProvider(jwksPath, issuer string, audience []string) (*JWTProvider, error) {
	p := newProvider(issuer, audience)
	p.jwksPath = jwksPath
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewDevProvider trusts a single local Ed25519 key and can mint tokens with
// it. It stands in for the identity provider in development.
func NewDevProvider(kid string, pemKey []byte, issuer string, audience []string) (*JWTProvider, error) {
	signer, err := jwtx.NewSignerEdDSA(kid, pemKey)
	if err != nil {
		return nil, err
	}
	p := newProvider(issuer, audience)
	if err := p.keys.AddSigner(signer); err != nil {
		return nil, err
	}
	p.signer = signer
	return p, nil
}

func newProvider(issuer string, audience []string) *JWTProvider {
	keys := jwtx.NewKeySet()
	return &JWTProvider{
		Issuer:   issuer,
		Audience: audience,
		keys:     keys,
		verifier: jwtx.NewVerifierEdDSA(keys, issuer, audience),
	}
}

// Reload re-reads the JWKS file. On error the previous keys stay in use.
func (p *JWTProvider) Reload() error {
	if p.jwksPath == "" {
		return nil
	}
	jwks, err := jwtx.LoadJWKSFile(p.jwksPath)
	if err != nil {
		return fmt.Errorf("identity: load jwks: %w", err)
	}
	return p.keys.ResetFromJWKS(jwks)
}

// Ready reports whether at least one verification key is loaded.
func (p *JWTProvider) Ready() bool { return p.keys.IsReady() }

// JWKS returns the public keys the provider trusts.
func (p *JWTProvider) JWKS() jwtx.JWKS { return p.keys.PublicJWKS() }

// SetNow overrides the verification clock.
func (p *JWTProvider) SetNow(now func() time.Time) { p.verifier.Now = now }

// Identify implements Provider.
func (p *JWTProvider) Identify(_ context.Context, token string) (Claims, error) {
	c, err := p.verifier.Verify(token)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := c.Identity()
	if id == "" {
		return Claims{}, fmt.Errorf("%w: no subject or email", ErrInvalidToken)
	}
	return Claims{Identity: id, DisplayName: c.Name, Role: c.Role}, nil
}

// Authenticate adapts the provider to httpx.Authenticator.
func (p *JWTProvider) Authenticate(ctx context.Context, token string) (httpx.Principal, error) {
	c, err := p.Identify(ctx, token)
	if err != nil {
		return httpx.Principal{}, err
	}
	return httpx.Principal{Identity: c.Identity, DisplayName: c.DisplayName, Role: c.Role}, nil
}

// Mint issues a token for a dev provider. It fails for JWKS providers.
func (p *JWTProvider) Mint(identity, displayName, role string, ttl time.Duration) (string, error) {
	if p.signer == nil {
		return "", errors.New("identity: provider can not mint tokens")
	}
	if ttl <= 0 {
		ttl = jwtx.DefaultIdentityTokenTTL
	}
	claims := jwtx.NewIdentityClaims(identity, identity, displayName, role, ttl, p.Issuer, p.Audience, p.verifier.Now())
	return p.signer.Sign(claims)
}
