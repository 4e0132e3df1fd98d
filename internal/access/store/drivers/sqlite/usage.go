package sqlite

import (
	"context"
	"fmt"
	"math"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
)

type usageRepo struct {
	db dbtx
}

func (r *usageRepo) GetUsage(ctx context.Context, identity string) (domain.UsageRecord, error) {
	var (
		rec                    domain.UsageRecord
		role                   string
		count, version         any
		lastReset, lastUpdated string
	)
	// count and version are scanned loosely: SQLite keeps whatever type was
	// written, and a non-integer value is a corrupt row, not a store failure.
	err := r.db.QueryRowContext(ctx, `
		SELECT identity, role, count, last_reset, last_updated, version
		FROM usage_records
		WHERE identity = ?`, identity,
	).Scan(&rec.Identity, &role, &count, &lastReset, &lastUpdated, &version)
	if err != nil {
		return domain.UsageRecord{}, mapNotFound(err)
	}
	rec.Role = domain.RoleName(role)

	n, ok := asInteger(count)
	if !ok {
		return domain.UsageRecord{}, fmt.Errorf("%w: usage record %q has count %v", store.ErrCorrupt, identity, count)
	}
	rec.Count = int(n)
	if rec.Version, ok = asInteger(version); !ok {
		return domain.UsageRecord{}, fmt.Errorf("%w: usage record %q has version %v", store.ErrCorrupt, identity, version)
	}

	if rec.LastReset, err = parseTime(lastReset); err != nil {
		return domain.UsageRecord{}, err
	}
	if rec.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return domain.UsageRecord{}, err
	}
	if !rec.Valid() {
		return domain.UsageRecord{}, fmt.Errorf("%w: usage record %q", store.ErrCorrupt, identity)
	}
	return rec, nil
}

// asInteger accepts integer cells and integral reals.
func asInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	}
	return 0, false
}

func (r *usageRepo) SaveUsage(ctx context.Context, rec domain.UsageRecord, expectedVersion int64) (domain.UsageRecord, error) {
	if expectedVersion == 0 {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO usage_records (identity, role, count, last_reset, last_updated, version)
			VALUES (?, ?, ?, ?, ?, 1)
			ON CONFLICT(identity) DO NOTHING`,
			rec.Identity, string(rec.Role), rec.Count, formatTime(rec.LastReset), formatTime(rec.LastUpdated),
		)
		if err != nil {
			return domain.UsageRecord{}, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return domain.UsageRecord{}, err
		} else if n == 0 {
			return domain.UsageRecord{}, store.ErrConflict
		}
		rec.Version = 1
		return rec, nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE usage_records
		SET role = ?, count = ?, last_reset = ?, last_updated = ?, version = version + 1
		WHERE identity = ? AND version = ?`,
		string(rec.Role), rec.Count, formatTime(rec.LastReset), formatTime(rec.LastUpdated),
		rec.Identity, expectedVersion,
	)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.UsageRecord{}, err
	} else if n == 0 {
		return domain.UsageRecord{}, store.ErrConflict
	}
	rec.Version = expectedVersion + 1
	return rec, nil
}

func (r *usageRepo) OverwriteUsage(ctx context.Context, rec domain.UsageRecord) (domain.UsageRecord, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO usage_records (identity, role, count, last_reset, last_updated, version)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(identity) DO UPDATE SET
			role = excluded.role,
			count = excluded.count,
			last_reset = excluded.last_reset,
			last_updated = excluded.last_updated,
			version = usage_records.version + 1
		RETURNING version`,
		rec.Identity, string(rec.Role), rec.Count, formatTime(rec.LastReset), formatTime(rec.LastUpdated),
	).Scan(&rec.Version)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	return rec, nil
}
