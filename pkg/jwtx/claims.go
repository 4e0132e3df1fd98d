package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIdentityTokenTTL is the lifetime of tokens minted by the dev issuer.
const DefaultIdentityTokenTTL = time.Hour

// Claims are the identity-token claims gatekeep accepts. The identity
// provider is external; we only read what it asserts about the caller.
type Claims struct {
	jwt.RegisteredClaims

	// Email is the stable identity when present, otherwise Subject is used.
	Email string `json:"email,omitempty"`

	// Name is the caller's display name.
	Name string `json:"name,omitempty"`

	// Role is the role claimed by the provider ("free", "premium", ...).
	// The persisted user record wins over it.
	Role string `json:"role,omitempty"`
}

// NewIdentityClaims builds minimally-correct claims.
func NewIdentityClaims(
	subject, email, name, role string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Name:  name,
		Role:  role,
	}
}

// Identity returns the email claim, falling back to the subject.
func (c *Claims) Identity() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiryWithLeeway checks exp and nbf against now, allowing for
// clock skew between us and the identity provider.
func (c *Claims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
