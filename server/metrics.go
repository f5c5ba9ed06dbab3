package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"library-lending/library"
)

// Metrics owns a private registry so several servers (tests) can coexist in
// one process.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.HistogramVec
	lending     *prometheus.CounterVec
	corrections *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "library",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		lending: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "lending_operations_total",
			Help:      "Lending operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "reconcile_corrections_total",
			Help:      "Rows corrected by reconciliation passes.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.lending,
		m.corrections,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeLending(operation string, err error) {
	m.lending.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) observeReconcile(r library.ReconcileReport) {
	m.corrections.WithLabelValues("marked_unavailable").Add(float64(r.MarkedUnavailable))
	m.corrections.WithLabelValues("marked_available").Add(float64(r.MarkedAvailable))
	m.corrections.WithLabelValues("overdue_refreshed").Add(float64(r.OverdueRefreshed))
}
