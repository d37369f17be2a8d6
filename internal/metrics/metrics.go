// Package metrics exposes Prometheus instruments for the login and launch flows.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins   *prometheus.CounterVec
	launches *prometheus.CounterVec
	keyFetch *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lti",
			Name:      "login_total",
			Help:      "OIDC login initiations by outcome.",
		}, []string{"outcome"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lti",
			Name:      "launch_total",
			Help:      "Launch validations by outcome.",
		}, []string{"outcome"}),
		keyFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lti",
			Name:      "jwks_fetch_duration_seconds",
			Help:      "Duration of platform key set fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.logins, m.launches, m.keyFetch)
	return m
}

// Login counts a login initiation outcome ("redirect", "invalid_deployment", ...).
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// Launch counts a launch outcome ("ok", "invalid_state", "wrong_ip", ...).
func (m *Metrics) Launch(outcome string) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(outcome).Inc()
}

// KeyFetch records a key set fetch; it matches jwks.Resolver.Observe.
func (m *Metrics) KeyFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.keyFetch.WithLabelValues(result).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
