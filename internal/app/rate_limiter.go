package app

import (
	"sync"
	"time"

	"github.com/dkeye/Avatar/internal/domain"
)

// OfferRateLimiter caps how many streams one client may open per interval.
// Every offer opens a paid upstream stream, so a client stuck in a retry loop
// is cut off here.
type OfferRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ClientToken][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewOfferRateLimiter(limit int, interval time.Duration) *OfferRateLimiter {
	return &OfferRateLimiter{
		history:  make(map[domain.ClientToken][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *OfferRateLimiter) Allow(ct domain.ClientToken) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[ct]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[ct] = fresh
		return false
	}

	rl.history[ct] = append(fresh, now)
	return true
}
