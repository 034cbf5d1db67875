// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Upstream target label values.
const (
	TargetOrigin  = "origin"
	TargetGateway = "gateway"
)

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	ResponseBytes    *prometheus.CounterVec

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	PipelineOutcomes  *prometheus.CounterVec
	GatewayCache      *prometheus.CounterVec
	GatewayRejections *prometheus.CounterVec
	CacheEvictions    prometheus.Counter

	routes []string
}

// New creates a Metrics instance with a custom registry and all collectors registered.
// routes are the path prefixes used as bounded path labels, in addition to
// the fixed operational endpoints.
func New(routes ...string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "origin_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "origin_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		ResponseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_relay_http_response_bytes_total",
			Help: "Body bytes written to clients, after rewriting.",
		}, []string{"path_prefix"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "origin_relay_upstream_request_duration_seconds",
			Help:    "Outbound call latency in seconds by target.",
			Buckets: defaultBuckets,
		}, []string{"target", "method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_relay_upstream_responses_total",
			Help: "Total outbound responses by target, method and status code.",
		}, []string{"target", "method", "status_code"}),

		PipelineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_relay_pipeline_outcomes_total",
			Help: "Origin responses by content pipeline outcome.",
		}, []string{"outcome"}),

		GatewayCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_relay_gateway_cache_total",
			Help: "Gateway cache lookups by result (hit, miss).",
		}, []string{"result"}),

		GatewayRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_relay_gateway_rejections_total",
			Help: "Gateway requests refused before any outbound call, by reason.",
		}, []string{"reason"}),

		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "origin_relay_gateway_cache_evictions_total",
			Help: "Expired gateway cache entries removed by the janitor.",
		}),

		routes: append(append([]string(nil), routes...), "/healthz", "/proxy/status", "/metrics"),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ResponseBytes,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.PipelineOutcomes,
		m.GatewayCache,
		m.GatewayRejections,
		m.CacheEvictions,
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

// NormalizePath returns a bounded path label for Prometheus metrics.
func (m *Metrics) NormalizePath(path string) string {
	for _, prefix := range m.routes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	if path == "/" {
		return "/"
	}
	return "other"
}
