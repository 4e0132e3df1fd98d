package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/aussiebroadwan/gatekeep/internal/access/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t.UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

// flakyStore lets a test break parts of a working store.
type flakyStore struct {
	store.Store

	mu       sync.Mutex
	usageErr error // every usage call fails
	getErr   error // only GetUsage fails
	auditErr error // every audit call fails
}

func (f *flakyStore) set(fn func(f *flakyStore)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *flakyStore) Usage() store.Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &flakyUsage{Usage: f.Store.Usage(), err: f.usageErr, getErr: f.getErr}
}

func (f *flakyStore) Audit() store.Audit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &flakyAudit{Audit: f.Store.Audit(), err: f.auditErr}
}

type flakyUsage struct {
	store.Usage
	err    error
	getErr error
}

func (u *flakyUsage) GetUsage(ctx context.Context, identity string) (domain.UsageRecord, error) {
	if u.err != nil {
		return domain.UsageRecord{}, u.err
	}
	if u.getErr != nil {
		return domain.UsageRecord{}, u.getErr
	}
	return u.Usage.GetUsage(ctx, identity)
}

func (u *flakyUsage) SaveUsage(ctx context.Context, rec domain.UsageRecord, expected int64) (domain.UsageRecord, error) {
	if u.err != nil {
		return domain.UsageRecord{}, u.err
	}
	return u.Usage.SaveUsage(ctx, rec, expected)
}

func (u *flakyUsage) OverwriteUsage(ctx context.Context, rec domain.UsageRecord) (domain.UsageRecord, error) {
	if u.err != nil {
		return domain.UsageRecord{}, u.err
	}
	return u.Usage.OverwriteUsage(ctx, rec)
}

type flakyAudit struct {
	store.Audit
	err error
}

func (a *flakyAudit) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	if a.err != nil {
		return a.err
	}
	return a.Audit.AppendAudit(ctx, e)
}

func (a *flakyAudit) LastAudit(ctx context.Context) (domain.AuditEntry, error) {
	if a.err != nil {
		return domain.AuditEntry{}, a.err
	}
	return a.Audit.LastAudit(ctx)
}

// staticCaller is a Caller with a fixed role.
type staticCaller struct {
	identity string
	role     domain.Role
}

func (c staticCaller) CallerIdentity() string                  { return c.identity }
func (c staticCaller) HasCapability(cp domain.Capability) bool { return c.role.Has(cp) }

func adminCaller(identity string) staticCaller {
	return staticCaller{identity: identity, role: domain.DefaultCatalog().MustResolve(domain.RoleAdmin)}
}

func freeCaller(identity string) staticCaller {
	return staticCaller{identity: identity, role: domain.DefaultCatalog().MustResolve(domain.RoleFree)}
}

func loggedIn(t *testing.T, catalog *domain.Catalog, identity string, role domain.RoleName) *SessionManager {
	t.Helper()
	sess := NewSessionManager(catalog, nil, nil)
	require.NoError(t, sess.Login(identity, string(role)))
	return sess
}

func guestSession(t *testing.T, catalog *domain.Catalog) *SessionManager {
	t.Helper()
	sess := NewSessionManager(catalog, nil, nil)
	require.NoError(t, sess.LoginGuest())
	return sess
}

// arrangement returns a sequence that differs from base.
func arrangement(i int) []string {
	return []string{"clip-b", "clip-a", string(rune('c' + i%20))}
}

var base = []string{"clip-a", "clip-b", "clip-c"}
