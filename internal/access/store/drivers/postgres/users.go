package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/jackc/pgx/v5"
)

type usersRepo struct {
	q querier
}

const userColumns = `identity, display_name, role, premium_until, disabled, last_login, created_at, updated_at`

func (r *usersRepo) GetUser(ctx context.Context, identity string) (domain.User, error) {
	row := r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE identity = $1`, identity)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	tag, err := r.q.Exec(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (identity) DO NOTHING`,
		u.Identity, u.DisplayName, string(u.Role), utcPtr(u.PremiumUntil), u.Disabled,
		utcPtr(u.LastLogin), u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	return expectAffected(tag, store.ErrAlreadyExists)
}

func (r *usersRepo) UpdateRole(ctx context.Context, identity string, role domain.RoleName, premiumUntil *time.Time) error {
	tag, err := r.q.Exec(ctx, `
UPDATE users SET role = $1, premium_until = $2, updated_at = NOW() WHERE identity = $3`,
		string(role), utcPtr(premiumUntil), identity,
	)
	if err != nil {
		return err
	}
	return expectAffected(tag, store.ErrNotFound)
}

func (r *usersRepo) SetDisabled(ctx context.Context, identity string, disabled bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE users SET disabled = $1, updated_at = NOW() WHERE identity = $2`,
		disabled, identity,
	)
	if err != nil {
		return err
	}
	return expectAffected(tag, store.ErrNotFound)
}

func (r *usersRepo) TouchLogin(ctx context.Context, identity string, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE users SET last_login = $1 WHERE identity = $2`, at.UTC(), identity)
	if err != nil {
		return err
	}
	return expectAffected(tag, store.ErrNotFound)
}

func (r *usersRepo) DeleteUser(ctx context.Context, identity string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM users WHERE identity = $1`, identity)
	if err != nil {
		return err
	}
	return expectAffected(tag, store.ErrNotFound)
}

func (r *usersRepo) ListUsers(ctx context.Context) ([]domain.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, identity ASC`)
}

func (r *usersRepo) ListExpiredPremium(ctx context.Context, now time.Time) ([]domain.User, error) {
	return r.list(ctx, `
SELECT `+userColumns+` FROM users
WHERE role = $1 AND premium_until IS NOT NULL AND premium_until <= $2
ORDER BY premium_until ASC`,
		string(domain.RolePremium), now.UTC(),
	)
}

func (r *usersRepo) list(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.q.Query(ctx, query, args...)
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

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u    domain.User
		role string
	)
	if err := row.Scan(&u.Identity, &u.DisplayName, &role, &u.PremiumUntil, &u.Disabled,
		&u.LastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.RoleName(role)
	u.PremiumUntil = utcPtr(u.PremiumUntil)
	u.LastLogin = utcPtr(u.LastLogin)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}
