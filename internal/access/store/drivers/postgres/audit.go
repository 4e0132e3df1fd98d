package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/jackc/pgx/v5"
)

type auditRepo struct {
	q querier
}

const auditColumns = `id, actor, action, target, timestamp, success, details, correlation_id, prev_hash, hash`

func (r *auditRepo) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
INSERT INTO audit_log (`+auditColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Actor, string(e.Action), e.Target, e.Timestamp.UTC(), e.Success,
		details, e.CorrelationID, e.PrevHash, e.Hash,
	)
	return err
}

func (r *auditRepo) LastAudit(ctx context.Context) (domain.AuditEntry, error) {
	row := r.q.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY seq DESC LIMIT 1`)
	e, err := scanAudit(row)
	if err != nil {
		return domain.AuditEntry{}, mapNotFound(err)
	}
	return e, nil
}

func (r *auditRepo) QueryAudit(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Actor != "" {
		add("actor = $%d", f.Actor)
	}
	if f.Target != "" {
		add("target = $%d", f.Target)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To.UTC())
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + auditColumns + ` FROM audit_log`)
	if len(where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY timestamp DESC, seq DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&q, " LIMIT $%d", len(args))
	}

	rows, err := r.q.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *auditRepo) ScanAudit(ctx context.Context, fn func(domain.AuditEntry) bool) error {
	rows, err := r.q.Query(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return err
		}
		if !fn(e) {
			break
		}
	}
	return rows.Err()
}

func (r *auditRepo) CountAudit(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, err
}

func scanAudit(row pgx.Row) (domain.AuditEntry, error) {
	var (
		e       domain.AuditEntry
		action  string
		details []byte
	)
	if err := row.Scan(&e.ID, &e.Actor, &action, &e.Target, &e.Timestamp, &e.Success, &details,
		&e.CorrelationID, &e.PrevHash, &e.Hash); err != nil {
		return domain.AuditEntry{}, err
	}
	e.Action = domain.AuditAction(action)
	e.Timestamp = e.Timestamp.UTC()

	var err error
	if e.Details, err = decodeDetails(details); err != nil {
		return domain.AuditEntry{}, err
	}
	return e, nil
}
