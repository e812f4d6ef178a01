// Package admission bounds the number of requests processed at once.
//
// A Controller hands out permits from a counting semaphore without ever
// blocking: a caller that gets no permit is expected to drop the request.
// An optional token bucket additionally bounds the sustained request rate.
package admission

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/marmos91/zest/internal/ratelimiter"
	"golang.org/x/sync/semaphore"
)

// Controller issues request permits.
type Controller struct {
	sem      *semaphore.Weighted
	limit    int64
	limiter  *ratelimiter.RateLimiter
	inFlight atomic.Int64
}

// New creates a Controller with maxRequests permits (0 means unbounded) and
// an optional requests-per-second bucket (0 disables it).
func New(maxRequests int, requestsPerSecond, burst uint) *Controller {
	limit := int64(maxRequests)
	if limit <= 0 {
		limit = math.MaxInt64
	}

	return &Controller{
		sem:     semaphore.NewWeighted(limit),
		limit:   limit,
		limiter: ratelimiter.New(requestsPerSecond, burst),
	}
}

// Permit is one unit of admission. Release returns it; extra calls are no-ops.
type Permit struct {
	c    *Controller
	once sync.Once
}

// Release returns the permit to its controller.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.c.inFlight.Add(-1)
		p.c.sem.Release(1)
	})
}

// TryAdmit returns a permit if one is available right now.
//
// It fails when all permits are held or when the rate bucket is empty; a
// rate refusal does not consume a permit.
func (c *Controller) TryAdmit() (*Permit, bool) {
	if !c.sem.TryAcquire(1) {
		return nil, false
	}
	if !c.limiter.Allow() {
		c.sem.Release(1)
		return nil, false
	}

	c.inFlight.Add(1)
	return &Permit{c: c}, true
}

// InFlight returns the number of permits currently held.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// Limit returns the permit count, or math.MaxInt64 when unbounded.
func (c *Controller) Limit() int64 {
	return c.limit
}
