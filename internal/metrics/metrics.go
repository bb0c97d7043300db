// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDropped = "dropped"
)

type Metrics struct {
	registry *prometheus.Registry

	authOperations *prometheus.CounterVec
	authDuration   *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	mailDispatched *prometheus.CounterVec
	tokensSwept    prometheus.Counter
}

// New builds a private registry with the Go and process collectors plus the
// service counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		authOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Auth operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		authDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_operation_duration_seconds",
			Help:    "Duration of auth operations.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"operation"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		mailDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_dispatch_total",
			Help: "Outbound mail jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		tokensSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "auth_tokens_swept_total",
			Help: "Expired ledger rows removed by the sweeper.",
		}),
	}
}

// ObserveAuth records one auth operation. A nil receiver is a no-op.
func (m *Metrics) ObserveAuth(operation string, err error, started time.Time) {
	if m == nil {
		return
	}

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.authOperations.WithLabelValues(operation, outcome).Inc()
	m.authDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveHTTP(method string, route string, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

func (m *Metrics) ObserveMail(kind string, outcome string) {
	if m == nil {
		return
	}
	m.mailDispatched.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) AddSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensSwept.Add(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
