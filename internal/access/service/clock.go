package service

import (
	"context"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
)

// Clock supplies the current time. Implementations must return UTC.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// RoleSource resolves the role an identity currently holds.
type RoleSource interface {
	RoleOf(identity string) (domain.Role, error)
}

// Caller is whoever is invoking a privileged operation.
type Caller interface {
	// CallerIdentity returns "" for anonymous callers.
	CallerIdentity() string
	HasCapability(c domain.Capability) bool
}

// RoleSyncer persists a role change made by a session.
type RoleSyncer interface {
	SyncRole(ctx context.Context, identity string, role domain.RoleName, until *time.Time) error
}

// Auditor records privileged actions. Append never fails the caller.
type Auditor interface {
	Append(ctx context.Context, e domain.AuditEntry) bool
}

func clockOrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}

func callerName(c Caller) string {
	if c == nil {
		return "anonymous"
	}
	if id := c.CallerIdentity(); id != "" {
		return id
	}
	return "anonymous"
}

func callerCan(c Caller, capability domain.Capability) bool {
	return c != nil && c.HasCapability(capability)
}

// withTimeout bounds a store call. A zero timeout leaves ctx untouched.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
