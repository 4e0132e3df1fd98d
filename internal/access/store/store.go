package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned by compare-and-swap writes when the stored
	// version no longer matches the expected one.
	ErrConflict = errors.New("store: version conflict")

	// ErrCorrupt reports a stored record that could not be decoded or
	// failed validation.
	ErrCorrupt = errors.New("store: corrupt record")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories so the usage tracker and audit
// log stay backend-agnostic.
type Store interface {
	Usage() Usage
	Audit() Audit
	Users() Users

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error, the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Usage interface {
	// GetUsage returns the usage record for identity, ErrNotFound when none
	// exists, or ErrCorrupt when the stored row cannot be decoded.
	GetUsage(ctx context.Context, identity string) (domain.UsageRecord, error)

	// SaveUsage writes rec if the stored version equals expectedVersion and
	// returns the record with its new version. An expectedVersion of zero
	// inserts. A lost race yields ErrConflict.
	SaveUsage(ctx context.Context, rec domain.UsageRecord, expectedVersion int64) (domain.UsageRecord, error)

	// OverwriteUsage replaces whatever is stored for rec.Identity regardless
	// of version. Used to repair corrupt rows.
	OverwriteUsage(ctx context.Context, rec domain.UsageRecord) (domain.UsageRecord, error)
}

type Audit interface {
	// AppendAudit inserts an entry. Entries are never updated or deleted.
	AppendAudit(ctx context.Context, e domain.AuditEntry) error

	// LastAudit returns the most recently appended entry (ErrNotFound if empty).
	LastAudit(ctx context.Context) (domain.AuditEntry, error)

	// QueryAudit returns entries matching f, newest first, at most f.Limit.
	QueryAudit(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error)

	// ScanAudit calls fn for every entry in append order until fn returns false.
	ScanAudit(ctx context.Context, fn func(domain.AuditEntry) bool) error

	// CountAudit returns the number of stored entries.
	CountAudit(ctx context.Context) (int, error)
}

type Users interface {
	GetUser(ctx context.Context, identity string) (domain.User, error)

	// CreateUser inserts a new user; ErrAlreadyExists if the identity is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateRole sets the role and premium expiry and bumps updated_at.
	UpdateRole(ctx context.Context, identity string, role domain.RoleName, premiumUntil *time.Time) error

	SetDisabled(ctx context.Context, identity string, disabled bool) error

	// TouchLogin records a successful login.
	TouchLogin(ctx context.Context, identity string, at time.Time) error

	DeleteUser(ctx context.Context, identity string) error

	// ListUsers returns every user ordered by creation date (newest first).
	ListUsers(ctx context.Context) ([]domain.User, error)

	// ListExpiredPremium returns premium users whose premium_until is <= now.
	ListExpiredPremium(ctx context.Context, now time.Time) ([]domain.User, error)
}
