package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `identity, display_name, role, premium_until, disabled, last_login, created_at, updated_at`

func (r *usersRepo) GetUser(ctx context.Context, identity string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE identity = ?`, identity)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO NOTHING`,
		u.Identity, u.DisplayName, string(u.Role), mapOptionalTime(u.PremiumUntil), u.Disabled,
		mapOptionalTime(u.LastLogin), formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrAlreadyExists)
}

func (r *usersRepo) UpdateRole(ctx context.Context, identity string, role domain.RoleName, premiumUntil *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET role = ?, premium_until = ?, updated_at = ? WHERE identity = ?`,
		string(role), mapOptionalTime(premiumUntil), formatTime(time.Now()), identity,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrNotFound)
}

func (r *usersRepo) SetDisabled(ctx context.Context, identity string, disabled bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET disabled = ?, updated_at = ? WHERE identity = ?`,
		disabled, formatTime(time.Now()), identity,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrNotFound)
}

func (r *usersRepo) TouchLogin(ctx context.Context, identity string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE identity = ?`,
		formatTime(at), identity,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrNotFound)
}

func (r *usersRepo) DeleteUser(ctx context.Context, identity string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE identity = ?`, identity)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrNotFound)
}

func (r *usersRepo) ListUsers(ctx context.Context) ([]domain.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, identity ASC`)
}

func (r *usersRepo) ListExpiredPremium(ctx context.Context, now time.Time) ([]domain.User, error) {
	return r.list(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = ? AND premium_until IS NOT NULL AND premium_until <= ?
		ORDER BY premium_until ASC`,
		string(domain.RolePremium), formatTime(now),
	)
}

func (r *usersRepo) list(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(s scanner) (domain.User, error) {
	var (
		u                    domain.User
		role                 string
		premiumUntil         sql.NullString
		lastLogin            sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(&u.Identity, &u.DisplayName, &role, &premiumUntil, &u.Disabled,
		&lastLogin, &createdAt, &updatedAt); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.RoleName(role)

	var err error
	if u.PremiumUntil, err = mapNullTimePtr(premiumUntil); err != nil {
		return domain.User{}, err
	}
	if u.LastLogin, err = mapNullTimePtr(lastLogin); err != nil {
		return domain.User{}, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.User{}, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func expectAffected(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
