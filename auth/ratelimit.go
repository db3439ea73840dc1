package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter throttles credential checks per normalized email. Entries are
// swept from the prune loop once idle longer than limiterIdle.
type loginLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

const limiterIdle = 15 * time.Minute

func newLoginLimiter(limit rate.Limit, burst int) *loginLimiter {
	return &loginLimiter{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *loginLimiter) allow(email string, now time.Time) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[email]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[email] = e
	}
	e.lastAccess = now
	return e.limiter.AllowN(now, 1)
}

func (l *loginLimiter) cleanup(now time.Time) {
	if l == nil || l.limit <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for email, e := range l.entries {
		if now.Sub(e.lastAccess) > limiterIdle {
			delete(l.entries, email)
		}
	}
}
