package metrics

import "time"

// ServerMetrics provides observability for the connection and request path.
//
// Implementations collect metrics about accepted, denied and rejected
// connections, served requests and listener generations. If not provided to
// the supervisor, a no-op implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewServerMetrics()
//	sup := supervisor.New(cfg, supervisor.Options{Metrics: m, ...})
//
//	// Without metrics (no-op)
//	sup := supervisor.New(cfg, supervisor.Options{...})
type ServerMetrics interface {
	// RecordRequest records a completed request with its status code and
	// the time spent in the pipeline.
	RecordRequest(status int, duration time.Duration)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionDenied counts connections refused by the access filter.
	RecordConnectionDenied()

	// RecordConnectionRejected counts connections refused for lack of a permit.
	RecordConnectionRejected()

	// SetGeneration records the current listener generation.
	SetGeneration(generation uint64)

	// RecordReload counts a reload attempt by outcome.
	RecordReload(success bool)
}

// CacheMetrics provides observability for the content caches.
//
// kind is the cache tier ("listing" or "file").
type CacheMetrics interface {
	RecordHit(kind string)
	RecordMiss(kind string)

	// RecordBypass counts values too large to be cached.
	RecordBypass(kind string)

	// SetEntries records the number of entries held by a tier.
	SetEntries(kind string, count int)
}

// NewNoopServerMetrics returns a ServerMetrics that discards everything.
func NewNoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

// NewNoopCacheMetrics returns a CacheMetrics that discards everything.
func NewNoopCacheMetrics() CacheMetrics {
	return noopCacheMetrics{}
}

type noopServerMetrics struct{}

func (noopServerMetrics) RecordRequest(status int, duration time.Duration) {}
func (noopServerMetrics) SetActiveConnections(count int32)                 {}
func (noopServerMetrics) RecordConnectionAccepted()                        {}
func (noopServerMetrics) RecordConnectionDenied()                          {}
func (noopServerMetrics) RecordConnectionRejected()                        {}
func (noopServerMetrics) SetGeneration(generation uint64)                  {}
func (noopServerMetrics) RecordReload(success bool)                        {}

type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordHit(kind string)             {}
func (noopCacheMetrics) RecordMiss(kind string)            {}
func (noopCacheMetrics) RecordBypass(kind string)          {}
func (noopCacheMetrics) SetEntries(kind string, count int) {}
