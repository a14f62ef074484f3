// Package ratelimiter paces background work such as journal garbage
// collection deletions against the underlying storage.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket wrapper around golang.org/x/time/rate.
//
// A nil *RateLimiter, or one built with a zero rate, never blocks. All methods
// are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter that admits opsPerSecond operations on average with
// bursts of up to burst operations. A zero rate disables limiting. A zero
// burst with a non-zero rate is raised to 1 so Wait can make progress.
func New(opsPerSecond float64, burst int) *RateLimiter {
	if opsPerSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(opsPerSecond), burst)}
}

// Unlimited reports whether the limiter admits everything immediately.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter.Limit() == rate.Inf
}

// Allow consumes a token if one is available without waiting.
func (r *RateLimiter) Allow() bool {
	if r.Unlimited() {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.Unlimited() {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// SetLimit changes the sustained rate. Zero disables limiting.
func (r *RateLimiter) SetLimit(opsPerSecond float64) {
	if opsPerSecond <= 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimitAt(time.Now(), rate.Limit(opsPerSecond))
	if r.limiter.Burst() < 1 {
		r.limiter.SetBurst(1)
	}
}

// Tokens returns the tokens currently in the bucket, for diagnostics.
func (r *RateLimiter) Tokens() float64 {
	if r.Unlimited() {
		return 0
	}
	return r.limiter.Tokens()
}
