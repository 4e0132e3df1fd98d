package gatekeepsdk

import "time"

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the JSON body of every error response.
// Client code should use the APIError type from errors.go instead.
type ErrorResponse struct {
	// Error is the machine readable error code (e.g., "quota_exceeded")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status ("ok" or "degraded")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	// Database indicates the persistence store status
	Database string `json:"database"`

	// Identity indicates whether token verification keys are loaded
	Identity string `json:"identity"`
}

// ============================================================================
// Session Types
// ============================================================================

// RoleInfo describes a role and what it grants.
type RoleInfo struct {
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	Capabilities      []string `json:"capabilities"`
	DailyArrangements int      `json:"daily_arrangements"` // -1 means unlimited
	MaxVideoMinutes   int      `json:"max_video_minutes"`
	MaxFileSizeMB     int      `json:"max_file_size_mb"`
}

// SessionResponse is the caller's current session.
type SessionResponse struct {
	// State is one of "guest" or "authenticated"
	State        string     `json:"state"`
	Identity     string     `json:"identity,omitempty"`
	Role         RoleInfo   `json:"role"`
	LoginAt      *time.Time `json:"login_at,omitempty"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`

	// Usage is the caller's quota for today. Guests get a zeroed view.
	Usage *UsageResponse `json:"usage,omitempty"`
}

// ============================================================================
// Usage Types
// ============================================================================

// UsageResponse is the caller's arrangement quota for the current day.
type UsageResponse struct {
	Identity  string    `json:"identity,omitempty"`
	Role      string    `json:"role"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"` // -1 means unlimited
	Limit     int       `json:"limit"`     // -1 means unlimited
	Unlimited bool      `json:"unlimited"`
	ResetsAt  time.Time `json:"resets_at"`

	// Stale is set when the store was unreachable and a cached value is shown.
	Stale bool `json:"stale,omitempty"`
}

// CanArrangeResponse answers whether one more arrangement is allowed today.
type CanArrangeResponse struct {
	Allowed bool `json:"allowed"`
}

// ArrangementRequest reports an arrangement. Baseline is the order before
// editing and Current the order after it.
type ArrangementRequest struct {
	Baseline []string `json:"baseline"`
	Current  []string `json:"current"`
}

// ArrangementResponse is the outcome of recording an arrangement.
type ArrangementResponse struct {
	Recorded  bool `json:"recorded"`
	Remaining int  `json:"remaining"` // -1 means unlimited
}

// ============================================================================
// Purchase Types
// ============================================================================

// PurchaseRequest buys a plan.
type PurchaseRequest struct {
	Plan string `json:"plan"`
}

// PurchaseResponse confirms a completed purchase.
type PurchaseResponse struct {
	TransactionID string    `json:"transaction_id"`
	Plan          string    `json:"plan"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Role          string    `json:"role"`
	PremiumUntil  time.Time `json:"premium_until"`
}

// ============================================================================
// Audit Types
// ============================================================================

// AuditEntry is one audit log record.
type AuditEntry struct {
	ID            string            `json:"id"`
	Actor         string            `json:"actor"`
	Action        string            `json:"action"`
	Target        string            `json:"target,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Success       bool              `json:"success"`
	Details       map[string]string `json:"details,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// AuditQuery filters audit entries. Zero values match everything. Range is
// one of "today", "week", "month" or "all" and is ignored when From or To
// is set.
type AuditQuery struct {
	Actor  string
	Target string
	Action string
	Range  string
	From   time.Time
	To     time.Time
	Limit  int
}

// ListAuditResponse contains audit entries, newest first.
type ListAuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}

// ============================================================================
// Admin Types
// ============================================================================

// UserInfo is a persisted user account.
type UserInfo struct {
	Identity     string     `json:"identity"`
	DisplayName  string     `json:"display_name,omitempty"`
	Role         string     `json:"role"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
	Disabled     bool       `json:"disabled"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ListUsersResponse contains all user accounts.
type ListUsersResponse struct {
	Users []UserInfo `json:"users"`
}

// CreateUserRequest creates a user account.
type CreateUserRequest struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
}

// ChangeRoleRequest changes a user's role. PremiumUntil only applies to
// time-bounded roles.
type ChangeRoleRequest struct {
	Role         string     `json:"role"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
}

// SetDisabledRequest enables or disables a user account.
type SetDisabledRequest struct {
	Disabled bool `json:"disabled"`
}
