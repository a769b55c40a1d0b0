// Package metrics registers the daemon's Prometheus instrumentation:
// per-family lane-active gauges, per-lane queue depth gauges, a daemon
// request counter, and a request-duration histogram. Built as
// promauto-built vectors with small Record/Set helper methods, but
// bound to a private *prometheus.Registry via promauto.With rather than
// the package-level default registry, so tests can construct as many
// independent Metrics instances as they like without collector
// collisions.
//
// Exposition (an HTTP /metrics endpoint) is deliberately not wired
// here: the daemon transport is loopback-TCP-framed only, and serving
// this registry over HTTP is left to whatever embeds this package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds one daemon's worth of collectors, all registered
// against a private Registry.
type Metrics struct {
	Registry *prometheus.Registry

	LaneActiveTotal       *prometheus.GaugeVec
	LaneQueueDepth        *prometheus.GaugeVec
	DaemonRequestsTotal   *prometheus.CounterVec
	DaemonRequestDuration *prometheus.HistogramVec
}

// New builds a Metrics instance with a fresh, private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		LaneActiveTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "surfwright_lane_active_total",
			Help: "Current number of active lane tasks, by command family.",
		}, []string{"family"}),
		LaneQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "surfwright_lane_queue_depth",
			Help: "Current queue depth for a lane, by lane key.",
		}, []string{"lane_key"}),
		DaemonRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surfwright_daemon_requests_total",
			Help: "Total daemon requests handled, by request kind and outcome.",
		}, []string{"kind", "outcome"}),
		DaemonRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surfwright_daemon_request_duration_seconds",
			Help:    "Daemon request handling latency in seconds, by command family.",
			Buckets: prometheus.DefBuckets,
		}, []string{"family"}),
	}
}

// SetLaneActive records the current active-task count for a family.
func (m *Metrics) SetLaneActive(family string, count float64) {
	m.LaneActiveTotal.WithLabelValues(family).Set(count)
}

// SetQueueDepth records the current queue depth for a lane key.
func (m *Metrics) SetQueueDepth(laneKey string, depth float64) {
	m.LaneQueueDepth.WithLabelValues(laneKey).Set(depth)
}

// RecordRequest increments the request counter for a kind/outcome pair.
// outcome is one of "ok", "error", or a typed error code.
func (m *Metrics) RecordRequest(kind, outcome string) {
	m.DaemonRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRequestDuration records how long a family's request took.
func (m *Metrics) ObserveRequestDuration(family string, seconds float64) {
	m.DaemonRequestDuration.WithLabelValues(family).Observe(seconds)
}
