// Package metrics provides Prometheus metrics for the dashboard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
)

// Metrics holds all Prometheus metrics for the dashboard.
type Metrics struct {
	ErrorsTotal           *prometheus.CounterVec
	RetryAttemptsTotal    *prometheus.CounterVec
	WidgetRefreshTotal    *prometheus.CounterVec
	WidgetRefreshDuration *prometheus.HistogramVec
	WidgetsFailed         prometheus.Gauge
	StoreOpsTotal         *prometheus.CounterVec
	TokensSweptTotal      prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_errors_total",
				Help: "Total errors reported to the error log by category.",
			},
			[]string{"category"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_retry_attempts_total",
				Help: "Retried operation attempts by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		WidgetRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_widget_refresh_total",
				Help: "Widget refreshes by widget and status.",
			},
			[]string{"widget", "status"},
		),
		WidgetRefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashboard_widget_refresh_duration_seconds",
				Help:    "Widget refresh duration including retries.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"widget"},
		),
		WidgetsFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dashboard_widgets_failed",
				Help: "Number of widgets currently showing an error.",
			},
		),
		StoreOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_store_ops_total",
				Help: "Key-value store operations by op and result.",
			},
			[]string{"op", "result"},
		),
		TokensSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashboard_tokens_swept_total",
				Help: "Expired tokens removed by the background sweep.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.RetryAttemptsTotal)
	reg.MustRegister(m.WidgetRefreshTotal)
	reg.MustRegister(m.WidgetRefreshDuration)
	reg.MustRegister(m.WidgetsFailed)
	reg.MustRegister(m.StoreOpsTotal)
	reg.MustRegister(m.TokensSweptTotal)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordError increments the error counter. Suitable as an errlog category hook.
func (m *Metrics) RecordError(category perrors.Category) {
	m.ErrorsTotal.WithLabelValues(string(category)).Inc()
}

// RetryObserver returns a retry observer that counts attempts for operation.
func (m *Metrics) RetryObserver(operation string) func(outcome string) {
	return func(outcome string) {
		m.RetryAttemptsTotal.WithLabelValues(operation, outcome).Inc()
	}
}

// RecordRefresh counts a widget refresh and its duration.
func (m *Metrics) RecordRefresh(widget, status string, seconds float64) {
	m.WidgetRefreshTotal.WithLabelValues(widget, status).Inc()
	m.WidgetRefreshDuration.WithLabelValues(widget).Observe(seconds)
}

// SetWidgetsFailed sets the failed widget gauge.
func (m *Metrics) SetWidgetsFailed(n int) {
	m.WidgetsFailed.Set(float64(n))
}

// RecordStoreOp counts a key-value store operation. Suitable as a kvstore observer.
func (m *Metrics) RecordStoreOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordSwept adds n swept tokens.
func (m *Metrics) RecordSwept(n int) {
	m.TokensSweptTotal.Add(float64(n))
}
