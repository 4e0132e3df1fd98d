package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// AdminService performs privileged user management. Every call checks a
// capability of the caller, is rate limited per actor, and is audited.
type AdminService struct {
	Store        store.Store
	Catalog      *domain.Catalog
	Auditor      Auditor
	Limiter      *ActionLimiter
	Clock        Clock
	Logger       *slog.Logger
	StoreTimeout time.Duration

	// Protected identities can not be disabled, deleted or demoted.
	Protected []string
}

func NewAdminService(s store.Store, catalog *domain.Catalog, auditor Auditor, limiter *ActionLimiter, logger *slog.Logger) *AdminService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AdminService{
		Store:        s,
		Catalog:      catalog,
		Auditor:      auditor,
		Limiter:      limiter,
		Clock:        SystemClock{},
		Logger:       slogx.Component(logger, "admin"),
		StoreTimeout: DefaultStoreTimeout,
	}
}

// CreateUser registers a new account. Requires manage-users.
func (s *AdminService) CreateUser(ctx context.Context, caller Caller, identity, displayName, roleName string) (domain.User, error) {
	if err := s.authorize(ctx, caller, domain.CapManageUsers, "users.create"); err != nil {
		return domain.User{}, err
	}
	if identity == "" {
		return domain.User{}, fmt.Errorf("%w: empty identity", domain.ErrInvalidArgument)
	}
	role, err := s.accountRole(roleName)
	if err != nil {
		return domain.User{}, err
	}

	now := clockOrSystem(s.Clock).Now()
	u := domain.User{
		Identity:    identity,
		DisplayName: displayName,
		Role:        role.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	sctx, cancel := withTimeout(ctx, s.StoreTimeout)
	err = s.Store.Users().CreateUser(sctx, u)
	cancel()
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		err = fmt.Errorf("%w: %s", domain.ErrUserExists, identity)
	case err != nil:
		err = fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	s.audit(ctx, caller, domain.ActionUserCreation, identity, err, map[string]string{"role": string(role.Name)})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// ChangeRole sets the role of target. until only applies to time-bounded
// roles. Requires change-roles.
func (s *AdminService) ChangeRole(ctx context.Context, caller Caller, target, roleName string, until *time.Time) (domain.User, error) {
	if err := s.authorize(ctx, caller, domain.CapChangeRoles, "users.change_role"); err != nil {
		return domain.User{}, err
	}
	role, err := s.accountRole(roleName)
	if err != nil {
		return domain.User{}, err
	}
	if !role.TimeBounded {
		until = nil
	}

	u, err := s.get(ctx, target)
	if err != nil {
		return domain.User{}, err
	}
	if role.Name != domain.RoleAdmin && s.protected(target) {
		s.audit(ctx, caller, domain.ActionRoleChange, target, domain.ErrProtectedUser, nil)
		return domain.User{}, domain.ErrProtectedUser
	}

	details := map[string]string{"from": string(u.Role), "to": string(role.Name)}
	if until != nil {
		details["until"] = until.UTC().Format(time.RFC3339)
	}

	err = s.write(ctx, func(ctx context.Context) error {
		return s.Store.Users().UpdateRole(ctx, target, role.Name, until)
	})
	s.audit(ctx, caller, domain.ActionRoleChange, target, err, details)
	if err != nil {
		return domain.User{}, err
	}

	u.Role = role.Name
	u.PremiumUntil = until
	return u, nil
}

// SetDisabled bans or re-enables target. Requires ban-users. Callers can not
// disable themselves.
func (s *AdminService) SetDisabled(ctx context.Context, caller Caller, target string, disabled bool) error {
	if err := s.authorize(ctx, caller, domain.CapBanUsers, "users.set_disabled"); err != nil {
		return err
	}
	details := map[string]string{"disabled": strconv.FormatBool(disabled)}
	if disabled && (target == callerName(caller) || s.protected(target)) {
		s.audit(ctx, caller, domain.ActionUserUpdate, target, domain.ErrProtectedUser, details)
		return domain.ErrProtectedUser
	}

	err := s.write(ctx, func(ctx context.Context) error {
		return s.Store.Users().SetDisabled(ctx, target, disabled)
	})
	s.audit(ctx, caller, domain.ActionUserUpdate, target, err, details)
	return err
}

// DeleteUser removes the account of target. Usage records are kept.
// Requires manage-users.
func (s *AdminService) DeleteUser(ctx context.Context, caller Caller, target string) error {
	if err := s.authorize(ctx, caller, domain.CapManageUsers, "users.delete"); err != nil {
		return err
	}
	if target == callerName(caller) || s.protected(target) {
		s.audit(ctx, caller, domain.ActionUserDeletion, target, domain.ErrProtectedUser, nil)
		return domain.ErrProtectedUser
	}

	err := s.write(ctx, func(ctx context.Context) error {
		return s.Store.Users().DeleteUser(ctx, target)
	})
	s.audit(ctx, caller, domain.ActionUserDeletion, target, err, nil)
	return err
}

// ListUsers returns every account, newest first. Requires manage-users.
func (s *AdminService) ListUsers(ctx context.Context, caller Caller) ([]domain.User, error) {
	if err := s.authorize(ctx, caller, domain.CapManageUsers, "users.list"); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.StoreTimeout)
	defer cancel()

	users, err := s.Store.Users().ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return users, nil
}

func (s *AdminService) authorize(ctx context.Context, caller Caller, capability domain.Capability, operation string) error {
	if !callerCan(caller, capability) {
		s.Logger.Warn("access denied", "actor", callerName(caller), "operation", operation)
		recordDenied(ctx, s.Auditor, caller, operation)
		return domain.ErrUnauthorized
	}
	if !s.Limiter.Allow(callerName(caller), operation) {
		return domain.ErrRateLimited
	}
	return nil
}

// accountRole resolves a role an account may hold; guest is not one of them.
func (s *AdminService) accountRole(name string) (domain.Role, error) {
	role, err := s.Catalog.Resolve(name)
	if err != nil {
		return domain.Role{}, err
	}
	if role.Name == domain.RoleGuest {
		return domain.Role{}, fmt.Errorf("%w: %q can not be assigned", domain.ErrUnknownRole, name)
	}
	return role, nil
}

func (s *AdminService) get(ctx context.Context, identity string) (domain.User, error) {
	ctx, cancel := withTimeout(ctx, s.StoreTimeout)
	defer cancel()

	u, err := s.Store.Users().GetUser(ctx, identity)
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, store.ErrNotFound):
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, identity)
	default:
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}

// write runs fn under the store timeout and maps store errors.
func (s *AdminService) write(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := withTimeout(ctx, s.StoreTimeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrUserNotFound
	default:
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}

func (s *AdminService) audit(ctx context.Context, caller Caller, action domain.AuditAction, target string, err error, details map[string]string) {
	if details == nil {
		details = map[string]string{}
	}
	if err != nil {
		details["error"] = err.Error()
	}
	if s.Auditor != nil {
		s.Auditor.Append(ctx, domain.AuditEntry{
			Actor:   callerName(caller),
			Action:  action,
			Target:  target,
			Success: err == nil,
			Details: details,
		})
	}
	if err == nil {
		s.Logger.Info("admin action", "actor", callerName(caller), "action", action, "target", target)
	}
}

func (s *AdminService) protected(identity string) bool {
	return slices.Contains(s.Protected, identity)
}
