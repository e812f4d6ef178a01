package prometheus

import (
	"github.com/marmos91/zest/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheMetrics is the Prometheus implementation of metrics.CacheMetrics.
type cacheMetrics struct {
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	bypasses *prometheus.CounterVec
	entries  *prometheus.GaugeVec
}

// NewCacheMetrics creates a Prometheus-backed CacheMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewCacheMetrics() metrics.CacheMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopCacheMetrics()
	}

	factory := promauto.With(metrics.GetRegistry())

	return &cacheMetrics{
		hits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zest_cache_hits_total",
				Help: "Cache lookups served from memory by tier",
			},
			[]string{"kind"},
		),
		misses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zest_cache_misses_total",
				Help: "Cache lookups that fell through to the filesystem by tier",
			},
			[]string{"kind"},
		),
		bypasses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zest_cache_bypass_total",
				Help: "Values not cached because they exceed the size limit",
			},
			[]string{"kind"},
		),
		entries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zest_cache_entries",
				Help: "Current number of entries per tier",
			},
			[]string{"kind"},
		),
	}
}

func (m *cacheMetrics) RecordHit(kind string) {
	m.hits.WithLabelValues(kind).Inc()
}

func (m *cacheMetrics) RecordMiss(kind string) {
	m.misses.WithLabelValues(kind).Inc()
}

func (m *cacheMetrics) RecordBypass(kind string) {
	m.bypasses.WithLabelValues(kind).Inc()
}

func (m *cacheMetrics) SetEntries(kind string, count int) {
	m.entries.WithLabelValues(kind).Set(float64(count))
}
