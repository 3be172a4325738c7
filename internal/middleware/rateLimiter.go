package middleware

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const warnInterval = 3 * time.Second

// RateLimiter is a per-connection token bucket. A nil *RateLimiter allows
// everything.
type RateLimiter struct {
	limiter     *rate.Limiter
	lastWarning atomic.Int64
}

// NewRateLimiter returns nil when rps is not positive.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *RateLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// ShouldWarn reports whether the caller should tell the client it is being
// limited. It returns true at most once per warnInterval.
func (l *RateLimiter) ShouldWarn() bool {
	if l == nil {
		return false
	}
	now := time.Now().UnixNano()
	last := l.lastWarning.Load()
	if now-last < int64(warnInterval) {
		return false
	}
	return l.lastWarning.CompareAndSwap(last, now)
}
