// Package metrics provides Prometheus metrics for the tunnel.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for admin API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Pair lifetimes range from sub-second probes to long-lived streams.
var pairBuckets = []float64{.01, .1, .5, 1, 5, 15, 60, 300, 900, 3600}

// Metrics holds all Prometheus metric collectors for the tunnel.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsAccepted  prometheus.Counter
	UpstreamDialFailures prometheus.Counter
	UpstreamDialDuration prometheus.Histogram
	PairsActive          prometheus.Gauge
	PairDuration         prometheus.Histogram
	BytesRelayed         *prometheus.CounterVec
	Rewrites             *prometheus.CounterVec

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "web_tunnel_connections_accepted_total",
			Help: "Total client connections accepted by the listener.",
		}),

		UpstreamDialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "web_tunnel_upstream_dial_failures_total",
			Help: "Total failed upstream connection attempts.",
		}),

		UpstreamDialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "web_tunnel_upstream_dial_duration_seconds",
			Help:    "Upstream connect latency in seconds.",
			Buckets: defaultBuckets,
		}),

		PairsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "web_tunnel_pairs_active",
			Help: "Number of client/upstream pairs currently relaying.",
		}),

		PairDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "web_tunnel_pair_duration_seconds",
			Help:    "Lifetime of a client/upstream pair in seconds.",
			Buckets: pairBuckets,
		}),

		BytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "web_tunnel_bytes_relayed_total",
			Help: "Total bytes written to the peer endpoint, by direction.",
		}, []string{"direction"}),

		Rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "web_tunnel_rewrites_total",
			Help: "Total HTTP head rewrites applied, by rule.",
		}, []string{"rule"}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "web_tunnel_admin_requests_total",
			Help: "Total admin API requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "web_tunnel_admin_request_duration_seconds",
			Help:    "Admin API request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "web_tunnel_admin_requests_in_flight",
			Help: "Number of admin API requests currently being processed.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsAccepted,
		m.UpstreamDialFailures,
		m.UpstreamDialDuration,
		m.PairsActive,
		m.PairDuration,
		m.BytesRelayed,
		m.Rewrites,
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/healthz", "/status", "/pairs", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
