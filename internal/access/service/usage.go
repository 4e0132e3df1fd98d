package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

const (
	// DefaultStoreTimeout bounds every store call made by the tracker.
	DefaultStoreTimeout = 2 * time.Second

	maxCASRetries = 5
)

// ArrangementResult is the outcome of RecordArrangementIfChanged.
type ArrangementResult struct {
	Recorded bool
	// Remaining is domain.Unlimited for roles without a quota.
	Remaining int
}

// UsageInfo is a read-only view of an identity's quota.
type UsageInfo struct {
	Identity  string
	Role      domain.RoleName
	Used      int
	Remaining int
	Limit     int
	Unlimited bool
	ResetsAt  time.Time
	// Stale is set when the store could not be reached and the view was
	// built from the last record this process observed.
	Stale bool
}

// UsageTracker accounts the daily arrangement quota of each identity.
//
// The counter resets at a fixed UTC time of day (ResetOffset after midnight).
// Writes are serialised per identity in-process and guarded by a version
// compare-and-swap in the store, so several processes may share one store.
type UsageTracker struct {
	Store        store.Store
	Catalog      *domain.Catalog
	Clock        Clock
	Logger       *slog.Logger
	ResetOffset  time.Duration
	StoreTimeout time.Duration

	locks keyedMutex

	cacheMu sync.Mutex
	cache   map[string]domain.UsageRecord
}

func NewUsageTracker(s store.Store, catalog *domain.Catalog, logger *slog.Logger) *UsageTracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &UsageTracker{
		Store:        s,
		Catalog:      catalog,
		Clock:        SystemClock{},
		Logger:       slogx.Component(logger, "usage"),
		StoreTimeout: DefaultStoreTimeout,
	}
}

// CanArrange reports whether identity may perform one more arrangement today.
// Guests are always refused. Any pending reset is persisted, and a missing
// record is created.
func (t *UsageTracker) CanArrange(ctx context.Context, roles RoleSource, identity string) (bool, error) {
	role, err := t.roleFor(roles, identity)
	if err != nil {
		return false, err
	}
	if role.UnlimitedArrangements() {
		return true, nil
	}

	rec, err := t.mutate(ctx, identity, role, func(*domain.UsageRecord) bool { return false })
	if err != nil {
		return false, err
	}
	return rec.Count < role.Limits.DailyArrangements, nil
}

// RecordArrangementIfChanged charges one arrangement when current differs
// from baseline. Reordering and restoring the original order is no change.
// An exhausted quota yields ErrQuotaExceeded with Remaining 0.
func (t *UsageTracker) RecordArrangementIfChanged(ctx context.Context, roles RoleSource, identity string, baseline, current []string) (ArrangementResult, error) {
	role, err := t.roleFor(roles, identity)
	if err != nil {
		return ArrangementResult{}, err
	}

	changed := !slices.Equal(baseline, current)

	if role.UnlimitedArrangements() {
		return ArrangementResult{Recorded: changed, Remaining: domain.Unlimited}, nil
	}

	limit := role.Limits.DailyArrangements
	if !changed {
		rec, err := t.peek(ctx, identity, role, t.now())
		if err != nil {
			return ArrangementResult{}, err
		}
		return ArrangementResult{Remaining: remaining(rec.Count, limit)}, nil
	}

	var exceeded bool
	rec, err := t.mutate(ctx, identity, role, func(r *domain.UsageRecord) bool {
		exceeded = r.Count >= limit
		if exceeded {
			return false
		}
		r.Count++
		return true
	})
	if err != nil {
		return ArrangementResult{}, err
	}
	if exceeded {
		return ArrangementResult{}, domain.ErrQuotaExceeded
	}

	t.Logger.Debug("arrangement recorded", "identity", identity, "count", rec.Count, "limit", limit)
	return ArrangementResult{Recorded: true, Remaining: remaining(rec.Count, limit)}, nil
}

// GetUsageInfo returns the post-reset view of identity's quota without
// writing anything. When the store is unreachable the last record seen by
// this process is used and the result is marked Stale.
func (t *UsageTracker) GetUsageInfo(ctx context.Context, roles RoleSource, identity string) (UsageInfo, error) {
	if roles == nil {
		return UsageInfo{}, domain.ErrNotAuthenticated
	}
	role, err := roles.RoleOf(identity)
	if err != nil {
		return UsageInfo{}, err
	}

	now := t.now()
	info := UsageInfo{
		Identity: identity,
		Role:     role.Name,
		Limit:    role.Limits.DailyArrangements,
		ResetsAt: t.boundary(now).Add(24 * time.Hour),
	}

	switch {
	case role.Name == domain.RoleGuest:
		info.Limit = 0
		return info, nil
	case role.UnlimitedArrangements():
		info.Unlimited = true
		info.Remaining = domain.Unlimited
		return info, nil
	}

	rec, err := t.peek(ctx, identity, role, now)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return UsageInfo{}, err
		}
		t.Logger.Warn("serving cached usage", "identity", identity, "error", err)
		cached, ok := t.cached(identity)
		if !ok {
			cached = t.fresh(identity, role.Name, now)
		}
		t.applyReset(&cached, now)
		rec = cached
		info.Stale = true
	}

	info.Used = rec.Count
	info.Remaining = remaining(rec.Count, info.Limit)
	return info, nil
}

func (t *UsageTracker) roleFor(roles RoleSource, identity string) (domain.Role, error) {
	if roles == nil {
		return domain.Role{}, domain.ErrNotAuthenticated
	}
	role, err := roles.RoleOf(identity)
	if err != nil {
		return domain.Role{}, err
	}
	if role.Name == domain.RoleGuest {
		return domain.Role{}, domain.ErrGuestNotAllowed
	}
	return role, nil
}

// mutate loads, resets and refreshes the record for identity, lets fn change
// it, and stores the result if anything changed. Lost CAS races are retried.
func (t *UsageTracker) mutate(ctx context.Context, identity string, role domain.Role, fn func(*domain.UsageRecord) bool) (domain.UsageRecord, error) {
	unlock := t.locks.Lock(identity)
	defer unlock()

	for range maxCASRetries {
		now := t.now()
		rec, expected, repair, err := t.load(ctx, identity, role.Name, now)
		if err != nil {
			return domain.UsageRecord{}, err
		}

		dirty := expected == 0 || repair
		if t.applyReset(&rec, now) {
			dirty = true
		}
		if rec.Role != role.Name {
			rec.Role = role.Name
			dirty = true
		}
		if fn(&rec) {
			dirty = true
		}
		if !dirty {
			t.remember(rec)
			return rec, nil
		}

		rec.LastUpdated = now
		saved, err := t.save(ctx, rec, expected, repair)
		if errors.Is(err, store.ErrConflict) {
			t.Logger.Debug("usage write lost a race, retrying", "identity", identity)
			continue
		}
		if err != nil {
			return domain.UsageRecord{}, err
		}
		t.remember(saved)
		return saved, nil
	}
	return domain.UsageRecord{}, fmt.Errorf("%w: too many concurrent writers for %q", domain.ErrStoreUnavailable, identity)
}

// peek is the read-only half of mutate.
func (t *UsageTracker) peek(ctx context.Context, identity string, role domain.Role, now time.Time) (domain.UsageRecord, error) {
	rec, _, _, err := t.load(ctx, identity, role.Name, now)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	t.remember(rec)
	t.applyReset(&rec, now)
	return rec, nil
}

// load returns the stored record and its version. Missing and corrupt rows
// read as a fresh record; repair is set for the latter so the next write
// overwrites the bad row.
func (t *UsageTracker) load(ctx context.Context, identity string, role domain.RoleName, now time.Time) (rec domain.UsageRecord, expected int64, repair bool, err error) {
	ctx, cancel := withTimeout(ctx, t.StoreTimeout)
	defer cancel()

	rec, err = t.Store.Usage().GetUsage(ctx, identity)
	switch {
	case err == nil:
		if _, rerr := t.Catalog.Resolve(string(rec.Role)); rerr != nil {
			return domain.UsageRecord{}, 0, false, fmt.Errorf("%w: usage record of %q holds role %q", domain.ErrInvariant, identity, rec.Role)
		}
		return rec, rec.Version, false, nil
	case errors.Is(err, store.ErrNotFound):
		return t.fresh(identity, role, now), 0, false, nil
	case errors.Is(err, store.ErrCorrupt):
		t.Logger.Warn("corrupt usage record, starting fresh", "identity", identity, "error", err)
		return t.fresh(identity, role, now), 0, true, nil
	default:
		return domain.UsageRecord{}, 0, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}

func (t *UsageTracker) save(ctx context.Context, rec domain.UsageRecord, expected int64, repair bool) (domain.UsageRecord, error) {
	ctx, cancel := withTimeout(ctx, t.StoreTimeout)
	defer cancel()

	var (
		saved domain.UsageRecord
		err   error
	)
	if repair {
		saved, err = t.Store.Usage().OverwriteUsage(ctx, rec)
	} else {
		saved, err = t.Store.Usage().SaveUsage(ctx, rec, expected)
	}
	if err == nil || errors.Is(err, store.ErrConflict) {
		return saved, err
	}
	return domain.UsageRecord{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

func (t *UsageTracker) fresh(identity string, role domain.RoleName, now time.Time) domain.UsageRecord {
	return domain.UsageRecord{
		Identity:    identity,
		Role:        role,
		LastReset:   t.boundary(now),
		LastUpdated: now,
	}
}

// boundary is the most recent reset instant at or before now.
func (t *UsageTracker) boundary(now time.Time) time.Time {
	now = now.UTC()
	b := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(t.ResetOffset)
	if b.After(now) {
		b = b.Add(-24 * time.Hour)
	}
	return b
}

// applyReset zeroes the counter if rec predates the current boundary.
func (t *UsageTracker) applyReset(rec *domain.UsageRecord, now time.Time) bool {
	b := t.boundary(now)
	if !rec.LastReset.Before(b) {
		return false
	}
	rec.Count = 0
	rec.LastReset = b
	return true
}

func (t *UsageTracker) remember(rec domain.UsageRecord) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	if t.cache == nil {
		t.cache = make(map[string]domain.UsageRecord)
	}
	t.cache[rec.Identity] = rec
}

func (t *UsageTracker) cached(identity string) (domain.UsageRecord, bool) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	rec, ok := t.cache[identity]
	return rec, ok
}

func (t *UsageTracker) now() time.Time {
	return clockOrSystem(t.Clock).Now()
}

func remaining(count, limit int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
