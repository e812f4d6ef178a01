package ratelimiter

import (
	"math"

	"golang.org/x/time/rate"
)

// RateLimiter provides admission rate limiting using the token bucket algorithm.
//
// Tokens are added at a constant rate; each admitted request consumes one.
// Burst is the bucket capacity, so a quiet server can absorb short spikes
// above the sustained rate.
//
// A nil *RateLimiter admits everything, which is what New returns for a
// zero rate.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter with the given sustained rate and burst.
//
// Special cases:
//   - requestsPerSecond = 0: no limiting, returns nil
//   - burst = 0: burst defaults to requestsPerSecond
//
// Example:
//
//	// Allow 1000 req/s sustained, 2000 req/s burst
//	limiter := New(1000, 2000)
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available. It never blocks.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Tokens returns the current number of available tokens, for logging.
// An unlimited limiter reports +Inf.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return math.Inf(1)
	}
	return r.limiter.Tokens()
}
