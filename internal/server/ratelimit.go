package server

import (
	"fmt"
	"sync"
	"time"
)

// idleClientTTL is how long an inactive client's counters are kept.
const idleClientTTL = 48 * time.Hour

// RateLimiter manages request rate limiting and daily quotas per client.
// Minute and hour limits use fixed windows that start with a client's first
// request in the window.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64 // in bytes

	userRequests map[string]*UserUsage
	lastSweep    time.Time
	now          func() time.Time
}

// UserUsage tracks usage for a specific client.
type UserUsage struct {
	requestsLastMinute int
	requestsLastHour   int
	requestsToday      int
	dataToday          int64

	minuteStart     time.Time
	hourStart       time.Time
	dayStartTime    time.Time
	lastRequestTime time.Time
}

// RequestsToday returns the number of accepted requests today.
func (u UserUsage) RequestsToday() int { return u.requestsToday }

// DataToday returns the accepted upload volume today in bytes.
func (u UserUsage) DataToday() int64 { return u.dataToday }

// NewRateLimiter creates a new rate limiter with the given limits. A zero
// limit is disabled.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		userRequests:      make(map[string]*UserUsage),
		now:               time.Now,
	}
}

// CheckRateLimit checks if a request from the given client is allowed and
// counts it when it is.
func (rl *RateLimiter) CheckRateLimit(userID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)
	usage := rl.getOrCreateUserUsage(userID, now)
	rl.resetCountersIfNeeded(usage, now)

	if err := rl.checkRateLimits(usage, now); err != nil {
		return err
	}
	if err := rl.checkDailyQuotas(usage, dataSize, now); err != nil {
		return err
	}

	rl.updateUsageCounters(usage, dataSize, now)
	return nil
}

// resetCountersIfNeeded starts new windows once the current ones elapsed.
func (rl *RateLimiter) resetCountersIfNeeded(usage *UserUsage, now time.Time) {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := usage.dayStartTime.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		usage.requestsToday = 0
		usage.dataToday = 0
		usage.dayStartTime = now
	}
	if now.Sub(usage.minuteStart) >= time.Minute {
		usage.requestsLastMinute = 0
		usage.minuteStart = now
	}
	if now.Sub(usage.hourStart) >= time.Hour {
		usage.requestsLastHour = 0
		usage.hourStart = now
	}
}

// checkRateLimits checks minute and hour rate limits.
func (rl *RateLimiter) checkRateLimits(usage *UserUsage, now time.Time) error {
	if rl.requestsPerMinute > 0 && usage.requestsLastMinute >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: time.Minute - now.Sub(usage.minuteStart),
		}
	}

	if rl.requestsPerHour > 0 && usage.requestsLastHour >= rl.requestsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.requestsPerHour,
			RetryAfter: time.Hour - now.Sub(usage.hourStart),
		}
	}

	return nil
}

// checkDailyQuotas checks daily request and data quotas.
func (rl *RateLimiter) checkDailyQuotas(usage *UserUsage, dataSize int64, now time.Time) error {
	resets := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	if rl.maxRequestsPerDay > 0 && usage.requestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(usage.requestsToday),
			Resets: resets,
		}
	}

	if rl.maxDataPerDay > 0 && usage.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   usage.dataToday,
			Resets: resets,
		}
	}

	return nil
}

// updateUsageCounters increments usage counters after a successful check.
func (rl *RateLimiter) updateUsageCounters(usage *UserUsage, dataSize int64, now time.Time) {
	usage.requestsLastMinute++
	usage.requestsLastHour++
	usage.requestsToday++
	usage.dataToday += dataSize
	usage.lastRequestTime = now
}

// getOrCreateUserUsage gets or creates usage tracking for a client.
func (rl *RateLimiter) getOrCreateUserUsage(userID string, now time.Time) *UserUsage {
	usage, exists := rl.userRequests[userID]
	if !exists {
		usage = &UserUsage{
			minuteStart:     now,
			hourStart:       now,
			dayStartTime:    now,
			lastRequestTime: now,
		}
		rl.userRequests[userID] = usage
	}
	return usage
}

// sweep drops clients idle for longer than idleClientTTL, at most hourly.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < time.Hour {
		return
	}
	rl.lastSweep = now
	for id, u := range rl.userRequests {
		if now.Sub(u.lastRequestTime) > idleClientTTL {
			delete(rl.userRequests, id)
		}
	}
}

// GetUsage returns a copy of the current usage of a client.
func (rl *RateLimiter) GetUsage(userID string) UserUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if usage, exists := rl.userRequests[userID]; exists {
		return *usage
	}
	return UserUsage{}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
