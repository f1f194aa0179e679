package tools

import (
	"golang.org/x/time/rate"
)

// Limiter bounds the rate of tool calls across all callers of a surface
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows perMinute calls per minute with bursts of burst.
// perMinute <= 0 disables limiting.
func NewLimiter(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)}
}

// Allow returns ErrRateLimited when the call must be refused
func (l *Limiter) Allow() error {
	if l == nil || l.limiter.Allow() {
		return nil
	}
	return ErrRateLimited
}
