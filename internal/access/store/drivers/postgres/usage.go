package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/jackc/pgx/v5"
)

type usageRepo struct {
	q querier
}

func (r *usageRepo) GetUsage(ctx context.Context, identity string) (domain.UsageRecord, error) {
	var (
		rec  domain.UsageRecord
		role string
	)
	err := r.q.QueryRow(ctx, `
SELECT identity, role, count, last_reset, last_updated, version
FROM usage_records
WHERE identity = $1`, identity,
	).Scan(&rec.Identity, &role, &rec.Count, &rec.LastReset, &rec.LastUpdated, &rec.Version)
	var scanErr pgx.ScanArgError
	if errors.As(err, &scanErr) {
		return domain.UsageRecord{}, fmt.Errorf("%w: usage record %q: %v", store.ErrCorrupt, identity, err)
	}
	if err != nil {
		return domain.UsageRecord{}, mapNotFound(err)
	}
	rec.Role = domain.RoleName(role)
	rec.LastReset = rec.LastReset.UTC()
	rec.LastUpdated = rec.LastUpdated.UTC()

	if !rec.Valid() {
		return domain.UsageRecord{}, fmt.Errorf("%w: usage record %q", store.ErrCorrupt, identity)
	}
	return rec, nil
}

func (r *usageRepo) SaveUsage(ctx context.Context, rec domain.UsageRecord, expectedVersion int64) (domain.UsageRecord, error) {
	if expectedVersion == 0 {
		tag, err := r.q.Exec(ctx, `
INSERT INTO usage_records (identity, role, count, last_reset, last_updated, version)
VALUES ($1, $2, $3, $4, $5, 1)
ON CONFLICT (identity) DO NOTHING`,
			rec.Identity, string(rec.Role), rec.Count, rec.LastReset.UTC(), rec.LastUpdated.UTC(),
		)
		if err != nil {
			return domain.UsageRecord{}, err
		}
		if err := expectAffected(tag, store.ErrConflict); err != nil {
			return domain.UsageRecord{}, err
		}
		rec.Version = 1
		return rec, nil
	}

	tag, err := r.q.Exec(ctx, `
UPDATE usage_records
SET role = $1, count = $2, last_reset = $3, last_updated = $4, version = version + 1
WHERE identity = $5 AND version = $6`,
		string(rec.Role), rec.Count, rec.LastReset.UTC(), rec.LastUpdated.UTC(), rec.Identity, expectedVersion,
	)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if err := expectAffected(tag, store.ErrConflict); err != nil {
		return domain.UsageRecord{}, err
	}
	rec.Version = expectedVersion + 1
	return rec, nil
}

func (r *usageRepo) OverwriteUsage(ctx context.Context, rec domain.UsageRecord) (domain.UsageRecord, error) {
	err := r.q.QueryRow(ctx, `
INSERT INTO usage_records (identity, role, count, last_reset, last_updated, version)
VALUES ($1, $2, $3, $4, $5, 1)
ON CONFLICT (identity) DO UPDATE
SET role = EXCLUDED.role,
    count = EXCLUDED.count,
    last_reset = EXCLUDED.last_reset,
    last_updated = EXCLUDED.last_updated,
    version = usage_records.version + 1
RETURNING version`,
		rec.Identity, string(rec.Role), rec.Count, rec.LastReset.UTC(), rec.LastUpdated.UTC(),
	).Scan(&rec.Version)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	return rec, nil
}
