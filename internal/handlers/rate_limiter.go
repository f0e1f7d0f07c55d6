package handlers

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// checkoutLimiter counts order submissions per customer in fixed windows.
type checkoutLimiter struct {
	limit     int
	window    time.Duration
	clock     func() time.Time
	mu        sync.Mutex
	customers map[string]checkoutWindow
	lastSweep time.Time
}

type checkoutWindow struct {
	submitted int
	resetAt   time.Time
}

// newCheckoutLimiter returns nil when the limit or window is not positive, which disables
// limiting.
func newCheckoutLimiter(limit int, window time.Duration, clock func() time.Time) *checkoutLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &checkoutLimiter{
		limit:     limit,
		window:    window,
		clock:     clock,
		customers: make(map[string]checkoutWindow),
	}
}

// Allow records one submission for the customer. When the window is exhausted it reports
// false along with the time left until the window resets.
func (l *checkoutLimiter) Allow(customerID string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	customerID = strings.TrimSpace(customerID)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	current, ok := l.customers[customerID]
	if !ok || !now.Before(current.resetAt) {
		l.customers[customerID] = checkoutWindow{submitted: 1, resetAt: now.Add(l.window)}
		return true, 0
	}
	if current.submitted >= l.limit {
		return false, current.resetAt.Sub(now)
	}
	current.submitted++
	l.customers[customerID] = current
	return true, 0
}

// sweepLocked drops expired windows at most once per window length.
func (l *checkoutLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for id, w := range l.customers {
		if !now.Before(w.resetAt) {
			delete(l.customers, id)
		}
	}
}

func retryAfterSeconds(wait time.Duration) string {
	seconds := int64((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}
