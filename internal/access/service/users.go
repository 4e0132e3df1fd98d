package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// UserDirectory owns the persisted user records behind authenticated sessions.
type UserDirectory struct {
	Store        store.Store
	Catalog      *domain.Catalog
	Clock        Clock
	Logger       *slog.Logger
	StoreTimeout time.Duration
}

func NewUserDirectory(s store.Store, catalog *domain.Catalog, logger *slog.Logger) *UserDirectory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &UserDirectory{
		Store:        s,
		Catalog:      catalog,
		Clock:        SystemClock{},
		Logger:       slogx.Component(logger, "users"),
		StoreTimeout: DefaultStoreTimeout,
	}
}

// EnsureUser returns the record for identity, creating it with the claimed
// role on first sight, and stamps the login time.
func (d *UserDirectory) EnsureUser(ctx context.Context, identity, displayName, roleClaim string) (domain.User, error) {
	ctx, cancel := withTimeout(ctx, d.StoreTimeout)
	defer cancel()

	now := clockOrSystem(d.Clock).Now()

	u, err := d.Store.Users().GetUser(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		role, rerr := d.claimedRole(roleClaim)
		if rerr != nil {
			return domain.User{}, rerr
		}
		u = domain.User{
			Identity:    identity,
			DisplayName: displayName,
			Role:        role,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = d.Store.Users().CreateUser(ctx, u)
		if errors.Is(err, store.ErrAlreadyExists) {
			u, err = d.Store.Users().GetUser(ctx, identity)
		} else if err == nil {
			d.Logger.Info("user created on first login", "identity", identity, "role", role)
		}
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	if u.Disabled {
		return u, domain.ErrUserDisabled
	}

	if err := d.Store.Users().TouchLogin(ctx, identity, now); err != nil {
		d.Logger.Warn("failed to record login", "identity", identity, "error", err)
	} else {
		u.LastLogin = &now
	}
	return u, nil
}

// ResolveLoginRole decides the role an identity logs in with. The persisted
// role wins over the token claim, and a lapsed premium grant is downgraded
// to free in the store before it is returned.
func (d *UserDirectory) ResolveLoginRole(ctx context.Context, identity, displayName, roleClaim string) (domain.User, error) {
	u, err := d.EnsureUser(ctx, identity, displayName, roleClaim)
	if err != nil {
		return u, err
	}

	now := clockOrSystem(d.Clock).Now()
	if !u.PremiumExpired(now) {
		return u, nil
	}

	ctx, cancel := withTimeout(ctx, d.StoreTimeout)
	defer cancel()
	if err := d.Store.Users().UpdateRole(ctx, identity, domain.RoleFree, nil); err != nil {
		// The session still logs in as free; the sweep will retry the write.
		d.Logger.Warn("failed to persist premium expiry", "identity", identity, "error", err)
	} else {
		d.Logger.Info("premium expired", "identity", identity, "until", u.PremiumUntil)
	}
	u.Role = domain.RoleFree
	u.PremiumUntil = nil
	return u, nil
}

// SyncRole implements RoleSyncer.
func (d *UserDirectory) SyncRole(ctx context.Context, identity string, role domain.RoleName, until *time.Time) error {
	ctx, cancel := withTimeout(ctx, d.StoreTimeout)
	defer cancel()

	err := d.Store.Users().UpdateRole(ctx, identity, role, until)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", domain.ErrUserNotFound, identity)
	default:
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}

// claimedRole maps a token role claim to a persisted role. No claim means
// free; guest is not a role an account can hold.
func (d *UserDirectory) claimedRole(claim string) (domain.RoleName, error) {
	if claim == "" {
		return domain.RoleFree, nil
	}
	r, err := d.Catalog.Resolve(claim)
	if err != nil {
		return "", err
	}
	if r.Name == domain.RoleGuest {
		return domain.RoleFree, nil
	}
	return r.Name, nil
}
