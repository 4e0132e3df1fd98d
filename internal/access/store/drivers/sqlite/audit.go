package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
)

type auditRepo struct {
	db dbtx
}

const auditColumns = `id, actor, action, target, timestamp, success, details, correlation_id, prev_hash, hash`

func (r *auditRepo) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, string(e.Action), e.Target, formatTime(e.Timestamp), e.Success,
		details, e.CorrelationID, e.PrevHash, e.Hash,
	)
	return err
}

func (r *auditRepo) LastAudit(ctx context.Context) (domain.AuditEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY seq DESC LIMIT 1`)
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
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Target != "" {
		where = append(where, "target = ?")
		args = append(args, f.Target)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if !f.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(f.To))
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + auditColumns + ` FROM audit_log`)
	if len(where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY timestamp DESC, seq DESC")
	if f.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q.String(), args...)
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
	rows, err := r.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY seq ASC`)
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
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudit(s scanner) (domain.AuditEntry, error) {
	var (
		e         domain.AuditEntry
		action    string
		timestamp string
		details   string
		success   bool
		target    sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Actor, &action, &target, &timestamp, &success, &details,
		&e.CorrelationID, &e.PrevHash, &e.Hash); err != nil {
		return domain.AuditEntry{}, err
	}
	e.Action = domain.AuditAction(action)
	e.Target = target.String
	e.Success = success

	var err error
	if e.Timestamp, err = parseTime(timestamp); err != nil {
		return domain.AuditEntry{}, err
	}
	if e.Details, err = decodeDetails(details); err != nil {
		return domain.AuditEntry{}, err
	}
	return e, nil
}
