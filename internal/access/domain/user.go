package domain

import "time"

type User struct {
	Identity     string // typically an email
	DisplayName  string
	Role         RoleName
	PremiumUntil *time.Time // only set for time-bounded roles
	Disabled     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PremiumExpired reports whether a time-bounded premium grant has lapsed.
func (u User) PremiumExpired(now time.Time) bool {
	return u.Role == RolePremium && u.PremiumUntil != nil && !now.Before(*u.PremiumUntil)
}
