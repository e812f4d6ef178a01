package config

import (
	"github.com/marmos91/zest/pkg/metrics"
	promMetrics "github.com/marmos91/zest/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// ServerMetrics instruments the supervisor and reload coordinator (never nil)
	ServerMetrics metrics.ServerMetrics

	// CacheMetrics instruments the content caches (never nil)
	CacheMetrics metrics.CacheMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// When metrics are disabled the server is nil and both collectors are no-op
// implementations. Metrics are process-wide: only the startup snapshot
// decides whether they exist.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			ServerMetrics: metrics.NewNoopServerMetrics(),
			CacheMetrics:  metrics.NewNoopCacheMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Addr: cfg.Bind.Addr,
			Port: cfg.Metrics.Port,
		}),
		ServerMetrics: promMetrics.NewServerMetrics(),
		CacheMetrics:  promMetrics.NewCacheMetrics(),
	}
}
