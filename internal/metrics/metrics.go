// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	AIRequests         *prometheus.CounterVec
	AIDuration         *prometheus.HistogramVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	PaymentTransitions *prometheus.CounterVec
	FormulasGenerated  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpro",
			Name:      "ai_requests_total",
			Help:      "AI router calls by input type, source and outcome.",
		}, []string{"input_type", "source", "success"}),
		AIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fitpro",
			Name:      "ai_request_duration_seconds",
			Help:      "AI router call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"input_type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpro",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fitpro",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpro",
			Name:      "payment_transitions_total",
			Help:      "Payment request status transitions.",
		}, []string{"status"}),
		FormulasGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fitpro",
			Name:      "formulas_generated_total",
			Help:      "Formulas persisted.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AIRequests, m.AIDuration,
		m.HTTPRequests, m.HTTPDuration,
		m.PaymentTransitions, m.FormulasGenerated,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAI(inputType, source string, success bool, d time.Duration) {
	m.AIRequests.WithLabelValues(inputType, source, strconv.FormatBool(success)).Inc()
	m.AIDuration.WithLabelValues(inputType).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
