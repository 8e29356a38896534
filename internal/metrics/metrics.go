// Package metrics exposes the proxy's request and retry counters to
// Prometheus via GET /__codex_helper/metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge the proxy updates on the request
// and retry paths.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	RetryAttemptsTotal  *prometheus.CounterVec
	UpstreamFailures    *prometheus.CounterVec
	RequestLogDropped   prometheus.Gauge
	UsageExhaustedGauge *prometheus.GaugeVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codex_helper_requests_total",
			Help: "Total proxied requests, by service and final status code.",
		}, []string{"service", "status"}),
		RetryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codex_helper_retry_attempts_total",
			Help: "Total upstream attempts made by the retry engine, by service.",
		}, []string{"service"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codex_helper_upstream_failures_total",
			Help: "Total classified failures per upstream, by config name and classification.",
		}, []string{"config_name", "class"}),
		RequestLogDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codex_helper_request_log_dropped_records",
			Help: "Records dropped from the request log's bounded channel under backpressure.",
		}),
		UsageExhaustedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "codex_helper_upstream_usage_exhausted",
			Help: "1 if the usage-provider engine has flagged an upstream as budget-exhausted.",
		}, []string{"config_name", "index"}),
	}

	reg.MustRegister(
		r.RequestsTotal,
		r.RetryAttemptsTotal,
		r.UpstreamFailures,
		r.RequestLogDropped,
		r.UsageExhaustedGauge,
	)

	return r
}

// Handler serves the registered collectors in the Prometheus exposition
// format, mounted at GET /__codex_helper/metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
