package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultAdminActionsPerMinute caps privileged actions per actor and action.
const DefaultAdminActionsPerMinute = 10

// ActionLimiter is a token bucket per (actor, action) pair.
type ActionLimiter struct {
	Clock Clock

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewActionLimiter allows perMinute actions per minute, all of them available
// as a burst. A non-positive perMinute disables limiting.
func NewActionLimiter(perMinute int) *ActionLimiter {
	if perMinute <= 0 {
		return &ActionLimiter{limit: rate.Inf}
	}
	return &ActionLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token for actor performing action.
func (l *ActionLimiter) Allow(actor, action string) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}

	key := actor + "\x00" + action

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.AllowN(clockOrSystem(l.Clock).Now(), 1)
}
