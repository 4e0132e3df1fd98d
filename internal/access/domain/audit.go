package domain

import "time"

// AuditAction is the closed tag of a privileged action.
type AuditAction string

const (
	ActionRoleChange   AuditAction = "role-change"
	ActionUserCreation AuditAction = "user-creation"
	ActionUserUpdate   AuditAction = "user-update"
	ActionUserDeletion AuditAction = "user-deletion"
	ActionAccessDenied AuditAction = "access-denied"
	ActionPurchase     AuditAction = "purchase"
	ActionAuditExport  AuditAction = "audit-export"
)

// KnownAuditAction reports whether a is part of the closed set.
func KnownAuditAction(a AuditAction) bool {
	switch a {
	case ActionRoleChange, ActionUserCreation, ActionUserUpdate, ActionUserDeletion,
		ActionAccessDenied, ActionPurchase, ActionAuditExport:
		return true
	}
	return false
}

// AuditEntry is one immutable record in the append-only audit trail.
type AuditEntry struct {
	ID            string
	Actor         string
	Action        AuditAction
	Target        string // optional
	Timestamp     time.Time
	Success       bool
	Details       map[string]string
	CorrelationID string

	// Hash chain: Hash covers the entry content and PrevHash.
	PrevHash string
	Hash     string
}

// AuditFilter narrows an audit query. Zero values mean "any".
type AuditFilter struct {
	Actor  string
	Target string
	Action AuditAction
	From   time.Time // inclusive
	To     time.Time // inclusive
	Limit  int
}

// Matches reports whether e passes every set filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
