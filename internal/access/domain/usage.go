package domain

import "time"

// UsageRecord is the persisted daily arrangement counter of one identity.
type UsageRecord struct {
	Identity    string
	Role        RoleName // role at last observation
	Count       int
	LastReset   time.Time
	LastUpdated time.Time

	// Version is bumped on every write and used for compare-and-swap.
	// Zero means the record has never been stored.
	Version int64
}

// Valid reports whether the record is structurally sound.
func (r UsageRecord) Valid() bool {
	return r.Identity != "" && r.Role != "" && r.Count >= 0 && !r.LastReset.IsZero()
}
