package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/zest/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics is the Prometheus implementation of metrics.ServerMetrics.
type serverMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     prometheus.Histogram
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsDenied   prometheus.Counter
	connectionsRejected prometheus.Counter
	generation          prometheus.Gauge
	reloadsTotal        *prometheus.CounterVec
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}

	factory := promauto.With(metrics.GetRegistry())

	return &serverMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zest_http_requests_total",
				Help: "Total number of requests by response status",
			},
			[]string{"status"},
		),
		requestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "zest_http_request_duration_seconds",
				Help: "Time spent handling a request, from request line to close",
				Buckets: []float64{
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.025,  // 25ms
					0.1,    // 100ms
					0.5,    // 500ms
					2.5,    // 2.5s
					10,     // 10s
				},
			},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zest_active_connections",
				Help: "Current number of connections being served",
			},
		),
		connectionsAccepted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zest_connections_accepted_total",
				Help: "Total number of accepted connections",
			},
		),
		connectionsDenied: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zest_connections_denied_total",
				Help: "Connections closed by the allow/block lists",
			},
		),
		connectionsRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zest_connections_rejected_total",
				Help: "Connections closed because no request permit was available",
			},
		),
		generation: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zest_listener_generation",
				Help: "Current listener generation",
			},
		),
		reloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zest_config_reloads_total",
				Help: "Configuration reload attempts by result",
			},
			[]string{"result"},
		),
	}
}

func (m *serverMetrics) RecordRequest(status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

func (m *serverMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionDenied() {
	m.connectionsDenied.Inc()
}

func (m *serverMetrics) RecordConnectionRejected() {
	m.connectionsRejected.Inc()
}

func (m *serverMetrics) SetGeneration(generation uint64) {
	m.generation.Set(float64(generation))
}

func (m *serverMetrics) RecordReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.reloadsTotal.WithLabelValues(result).Inc()
}
