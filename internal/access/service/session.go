package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// DefaultSyncTimeout bounds the best-effort role sync on UpgradeRole.
const DefaultSyncTimeout = 5 * time.Second

// SessionState is the lifecycle state of a SessionManager.
type SessionState int

const (
	StateLoggedOut SessionState = iota
	StateGuest
	StateAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateGuest:
		return "guest"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "logged-out"
	}
}

// Session is a point-in-time copy of a SessionManager's state.
type Session struct {
	State        SessionState
	Identity     string
	Role         domain.Role
	LoginAt      time.Time
	PremiumUntil *time.Time
}

func (s Session) Authenticated() bool { return s.State == StateAuthenticated }
func (s Session) Guest() bool         { return s.State == StateGuest }

type roleOptions struct {
	until *time.Time
}

// RoleOption tunes Login and UpgradeRole.
type RoleOption func(*roleOptions)

// WithExpiry sets the end of a time-bounded grant. It is ignored for roles
// that are not time-bounded.
func WithExpiry(until time.Time) RoleOption {
	return func(o *roleOptions) {
		u := until.UTC()
		o.until = &u
	}
}

// SessionManager tracks who the current caller is and which role they hold.
// One instance belongs to one caller context; instances share nothing.
type SessionManager struct {
	Catalog     *domain.Catalog
	Syncer      RoleSyncer // optional
	Auditor     Auditor    // optional
	Clock       Clock
	Logger      *slog.Logger
	SyncTimeout time.Duration

	mu   sync.RWMutex
	sess Session
}

// NewSessionManager returns a logged-out session.
func NewSessionManager(catalog *domain.Catalog, syncer RoleSyncer, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SessionManager{
		Catalog:     catalog,
		Syncer:      syncer,
		Clock:       SystemClock{},
		Logger:      logger,
		SyncTimeout: DefaultSyncTimeout,
	}
}

// LoginGuest moves a logged-out session into guest mode. Nothing is persisted.
func (m *SessionManager) LoginGuest() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != StateLoggedOut {
		return domain.ErrAlreadyLoggedIn
	}
	m.sess = Session{
		State:   StateGuest,
		Role:    m.Catalog.MustResolve(domain.RoleGuest),
		LoginAt: m.now(),
	}
	return nil
}

// Login authenticates identity with the named role.
func (m *SessionManager) Login(identity, roleName string, opts ...RoleOption) error {
	role, err := m.Catalog.Resolve(roleName)
	if err != nil {
		return err
	}
	if identity == "" {
		return fmt.Errorf("%w: empty identity", domain.ErrNotAuthenticated)
	}
	o := applyRoleOptions(role, opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != StateLoggedOut {
		return domain.ErrAlreadyLoggedIn
	}
	m.sess = Session{
		State:        StateAuthenticated,
		Identity:     identity,
		Role:         role,
		LoginAt:      m.now(),
		PremiumUntil: o.until,
	}
	return nil
}

// UpgradeRole changes the role of an authenticated session. Re-applying the
// current role is a no-op unless WithExpiry names a different expiry; the
// existing expiry is kept when none is given. The change is synced to the
// store on a best-effort basis: failures are logged, never returned.
func (m *SessionManager) UpgradeRole(ctx context.Context, roleName string, opts ...RoleOption) error {
	role, err := m.Catalog.Resolve(roleName)
	if err != nil {
		return err
	}
	o := applyRoleOptions(role, opts)

	m.mu.Lock()
	if m.sess.State != StateAuthenticated {
		m.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	prev := m.sess
	if prev.Role.Name == role.Name && (o.until == nil || sameExpiry(prev.PremiumUntil, o.until)) {
		m.mu.Unlock()
		return nil
	}
	m.sess.Role = role
	m.sess.PremiumUntil = o.until
	identity := m.sess.Identity
	m.mu.Unlock()

	log := slogx.Component(m.Logger, "session").With("identity", identity)
	log.Info("role changed", "from", prev.Role.Name, "to", role.Name)

	if m.Syncer != nil {
		syncCtx, cancel := withTimeout(ctx, m.SyncTimeout)
		err := m.Syncer.SyncRole(syncCtx, identity, role.Name, o.until)
		cancel()
		if err != nil {
			log.Warn("role sync failed", "role", role.Name, "error", err)
		}
	}

	if m.Auditor != nil {
		details := map[string]string{
			"from": string(prev.Role.Name),
			"to":   string(role.Name),
		}
		if o.until != nil {
			details["until"] = o.until.Format(time.RFC3339)
		}
		m.Auditor.Append(ctx, domain.AuditEntry{
			Actor:   identity,
			Action:  domain.ActionRoleChange,
			Target:  identity,
			Success: true,
			Details: details,
		})
	}
	return nil
}

// Logout discards the in-memory session. It never fails.
func (m *SessionManager) Logout() {
	m.mu.Lock()
	m.sess = Session{}
	m.mu.Unlock()
}

func (m *SessionManager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.State
}

func (m *SessionManager) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.Identity
}

// Role returns the effective role. A lapsed premium grant reads as free.
// The zero Role is returned for logged-out sessions.
func (m *SessionManager) Role() domain.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectiveRole()
}

func (m *SessionManager) IsGuest() bool         { return m.State() == StateGuest }
func (m *SessionManager) IsAuthenticated() bool { return m.State() == StateAuthenticated }

// HasCapability checks the effective role.
func (m *SessionManager) HasCapability(c domain.Capability) bool {
	return m.Role().Has(c)
}

// CallerIdentity implements Caller.
func (m *SessionManager) CallerIdentity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess.State != StateAuthenticated {
		return ""
	}
	return m.sess.Identity
}

// Snapshot returns a copy of the session with the effective role.
func (m *SessionManager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sess
	s.Role = m.effectiveRole()
	if s.PremiumUntil != nil {
		u := *s.PremiumUntil
		s.PremiumUntil = &u
	}
	return s
}

// RoleOf implements RoleSource for the identity this session belongs to.
func (m *SessionManager) RoleOf(identity string) (domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.sess.State {
	case StateGuest:
		return m.sess.Role, nil
	case StateAuthenticated:
		if identity == m.sess.Identity {
			return m.effectiveRole(), nil
		}
	}
	return domain.Role{}, domain.ErrNotAuthenticated
}

// effectiveRole must be called with mu held.
func (m *SessionManager) effectiveRole() domain.Role {
	r := m.sess.Role
	if r.TimeBounded && m.sess.PremiumUntil != nil && !m.now().Before(*m.sess.PremiumUntil) {
		return m.Catalog.MustResolve(domain.RoleFree)
	}
	return r
}

func (m *SessionManager) now() time.Time {
	return clockOrSystem(m.Clock).Now()
}

func applyRoleOptions(role domain.Role, opts []RoleOption) roleOptions {
	var o roleOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !role.TimeBounded {
		o.until = nil
	}
	return o
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
