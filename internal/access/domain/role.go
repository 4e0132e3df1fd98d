package domain

import (
	"fmt"
	"slices"
	"strings"
)

// RoleName is the closed set of roles an identity can hold.
type RoleName string

const (
	RoleGuest   RoleName = "guest"
	RoleFree    RoleName = "free"
	RolePremium RoleName = "premium"
	RoleAdmin   RoleName = "admin"
)

// Capability is a named permission grant.
type Capability string

const (
	CapSaveVideo             Capability = "save-video"
	CapMergeVideos           Capability = "merge-videos"
	CapUpload                Capability = "upload"
	CapArrange               Capability = "arrange"
	CapLockPosition          Capability = "lock-position"
	CapNoWatermark           Capability = "no-watermark"
	CapNoAds                 Capability = "no-ads"
	CapUnlimitedArrangements Capability = "unlimited-arrangements"
	CapViewLogs              Capability = "view-logs"
	CapDebugTools            Capability = "debug-tools"
	CapManageUsers           Capability = "manage-users"
	CapChangeRoles           Capability = "change-roles"
	CapBanUsers              Capability = "ban-users"
	CapViewAnalytics         Capability = "view-analytics"
)

// Unlimited is the sentinel for numeric limits without a bound.
const Unlimited = -1

// DefaultFreeDailyArrangements is the free tier quota when none is configured.
const DefaultFreeDailyArrangements = 10

// Limits holds the numeric limits of a role. Unlimited (-1) disables a limit.
type Limits struct {
	DailyArrangements int
	MaxVideoMinutes   int
	MaxFileSizeMB     int
}

// Role is an immutable bundle of capabilities and limits.
type Role struct {
	Name        RoleName
	Description string
	Limits      Limits

	// TimeBounded roles may carry an expiry (premium-until-date).
	TimeBounded bool

	caps map[Capability]struct{}
}

// Has reports whether the role grants the capability.
func (r Role) Has(c Capability) bool {
	_, ok := r.caps[c]
	return ok
}

// Capabilities returns the role's capabilities sorted by name.
func (r Role) Capabilities() []Capability {
	out := make([]Capability, 0, len(r.caps))
	for c := range r.caps {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// IsZero reports whether r is the zero Role (never resolved).
func (r Role) IsZero() bool { return r.Name == "" }

// UnlimitedArrangements reports whether the role bypasses the daily quota.
func (r Role) UnlimitedArrangements() bool {
	return r.Limits.DailyArrangements == Unlimited
}

func (r Role) String() string { return string(r.Name) }

// CatalogOptions tunes the numeric limits of the static role table.
type CatalogOptions struct {
	// FreeDailyArrangements overrides the free tier quota. Zero keeps the default.
	FreeDailyArrangements int
}

// Catalog is the static, read-only table of roles. It is built once at
// startup and never mutated afterwards.
type Catalog struct {
	roles map[RoleName]Role
}

// DefaultCatalog returns the catalog with the default limits.
func DefaultCatalog() *Catalog {
	return NewCatalog(CatalogOptions{})
}

// NewCatalog builds the role table.
func NewCatalog(opts CatalogOptions) *Catalog {
	freeQuota := opts.FreeDailyArrangements
	if freeQuota <= 0 {
		freeQuota = DefaultFreeDailyArrangements
	}

	basic := []Capability{CapSaveVideo, CapMergeVideos}
	free := append(slices.Clone(basic), CapUpload, CapArrange)
	premium := append(slices.Clone(free),
		CapLockPosition,
		CapNoWatermark,
		CapNoAds,
		CapUnlimitedArrangements,
	)
	admin := append(slices.Clone(premium),
		CapViewLogs,
		CapDebugTools,
		CapManageUsers,
		CapChangeRoles,
		CapBanUsers,
		CapViewAnalytics,
	)

	c := &Catalog{roles: make(map[RoleName]Role, 4)}
	c.add(Role{
		Name:        RoleGuest,
		Description: "Guest user with limited features, watermark, and ads",
		Limits:      Limits{DailyArrangements: 0, MaxVideoMinutes: 10, MaxFileSizeMB: 100},
	}, basic)
	c.add(Role{
		Name:        RoleFree,
		Description: "Free tier user with upload capability but has ads",
		Limits:      Limits{DailyArrangements: freeQuota, MaxVideoMinutes: 30, MaxFileSizeMB: 500},
	}, free)
	c.add(Role{
		Name:        RolePremium,
		Description: "Premium user with full features, no ads, no watermark",
		Limits:      Limits{DailyArrangements: Unlimited, MaxVideoMinutes: Unlimited, MaxFileSizeMB: Unlimited},
		TimeBounded: true,
	}, premium)
	c.add(Role{
		Name:        RoleAdmin,
		Description: "Administrator with full access and user management",
		Limits:      Limits{DailyArrangements: Unlimited, MaxVideoMinutes: Unlimited, MaxFileSizeMB: Unlimited},
	}, admin)

	return c
}

func (c *Catalog) add(r Role, caps []Capability) {
	r.caps = make(map[Capability]struct{}, len(caps))
	for _, capability := range caps {
		r.caps[capability] = struct{}{}
	}
	c.roles[r.Name] = r
}

// Resolve looks up a role by name. Names are matched case-insensitively.
func (c *Catalog) Resolve(name string) (Role, error) {
	r, ok := c.roles[RoleName(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return Role{}, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return r, nil
}

// MustResolve is Resolve for names known at compile time.
func (c *Catalog) MustResolve(name RoleName) Role {
	r, err := c.Resolve(string(name))
	if err != nil {
		panic(err)
	}
	return r
}

// HasCapability is a pure lookup of a capability on a role.
func (c *Catalog) HasCapability(r Role, capability Capability) bool {
	return r.Has(capability)
}

// All returns every role in a stable order.
func (c *Catalog) All() []Role {
	return []Role{
		c.roles[RoleGuest],
		c.roles[RoleFree],
		c.roles[RolePremium],
		c.roles[RoleAdmin],
	}
}
