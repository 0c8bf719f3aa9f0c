// Package metrics exposes the Prometheus collectors for the auth service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors with their registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	Logins          *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	TokenRejections *prometheus.CounterVec
}

// New builds and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_http_requests_total",
			Help: "HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_auth_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by policy.",
		}, []string{"policy"}),
		TokenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_token_rejections_total",
			Help: "Access tokens rejected by the middleware, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.Logins, m.RateLimited, m.TokenRejections)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
