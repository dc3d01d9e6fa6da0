package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates and daily upload quotas.
// Minute and hour limits use fixed windows that start with the first request
// seen in the window.
type RateLimiter struct {
	mu sync.Mutex

	perMinute   int
	perHour     int
	perDay      int
	bytesPerDay int64

	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	day         time.Time
	dayCount    int
	dayBytes    int64
}

// Usage is a read-only copy of one client's counters.
type Usage struct {
	LastMinute int
	LastHour   int
	Today      int
	BytesToday int64
}

// NewRateLimiter creates a limiter. A zero limit disables that check.
func NewRateLimiter(perMinute, perHour, perDay int, bytesPerDay int64) *RateLimiter {
	return &RateLimiter{
		perMinute:   perMinute,
		perHour:     perHour,
		perDay:      perDay,
		bytesPerDay: bytesPerDay,
		clients:     make(map[string]*clientUsage),
		now:         time.Now,
	}
}

// Allow records a request of size bytes from client, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{}
		rl.clients[client] = u
	}
	u.roll(now)

	if rl.perMinute > 0 && u.minuteCount >= rl.perMinute {
		return &RateLimitError{Window: "minute", Limit: rl.perMinute, RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	}
	if rl.perHour > 0 && u.hourCount >= rl.perHour {
		return &RateLimitError{Window: "hour", Limit: rl.perHour, RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	}
	resets := u.day.AddDate(0, 0, 1)
	if rl.perDay > 0 && u.dayCount >= rl.perDay {
		return &QuotaExceededError{Kind: "requests", Limit: int64(rl.perDay), Used: int64(u.dayCount), Resets: resets}
	}
	if rl.bytesPerDay > 0 && u.dayBytes+size > rl.bytesPerDay {
		return &QuotaExceededError{Kind: "data", Limit: rl.bytesPerDay, Used: u.dayBytes, Resets: resets}
	}

	u.minuteCount++
	u.hourCount++
	u.dayCount++
	u.dayBytes += size
	return nil
}

func (u *clientUsage) roll(now time.Time) {
	if u.minuteStart.IsZero() || now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart, u.minuteCount = now, 0
	}
	if u.hourStart.IsZero() || now.Sub(u.hourStart) >= time.Hour {
		u.hourStart, u.hourCount = now, 0
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !day.Equal(u.day) {
		u.day, u.dayCount, u.dayBytes = day, 0, 0
	}
}

// Usage returns the counters for client as of now.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	u.roll(rl.now())
	return Usage{LastMinute: u.minuteCount, LastHour: u.hourCount, Today: u.dayCount, BytesToday: u.dayBytes}
}

// RateLimitError is returned when a minute or hour window is exhausted.
type RateLimitError struct {
	Window     string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Window, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError is returned when a daily quota is used up.
type QuotaExceededError struct {
	Kind   string
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily %s quota exceeded (used: %d, limit: %d, resets: %s)",
		e.Kind, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
