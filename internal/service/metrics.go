package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus collectors the service updates. Each instance
// owns its registry so tests and multiple services never collide.
type Metrics struct {
	Registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	streamStale   *prometheus.GaugeVec
	activeAlerts  *prometheus.GaugeVec
	alertsRaised  *prometheus.CounterVec
	notifyTotal   *prometheus.CounterVec
	simulateTotal *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers the service collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		fetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_fetch_total",
			Help: "Fetches per stream by outcome",
		}, []string{"stream", "result"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitalwatch_fetch_duration_seconds",
			Help:    "Duration of fetches per stream",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream"}),
		streamStale: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vitalwatch_stream_stale",
			Help: "1 when the stream's last refresh failed",
		}, []string{"stream"}),
		activeAlerts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vitalwatch_active_alerts",
			Help: "Currently active alert conditions by kind",
		}, []string{"kind"}),
		alertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_alerts_raised_total",
			Help: "Alert conditions raised by kind",
		}, []string{"kind"}),
		notifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_notifications_total",
			Help: "Alert notifications by outcome",
		}, []string{"result"}),
		simulateTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_simulate_total",
			Help: "Simulate commands by accident type and outcome",
		}, []string{"accident_type", "result"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitalwatch_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

func (m *Metrics) observeFetch(stream string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(stream, outcome(err)).Inc()
	m.fetchDuration.WithLabelValues(stream).Observe(took.Seconds())
}

func (m *Metrics) setStale(stream string, stale bool) {
	if m == nil {
		return
	}
	v := 0.0
	if stale {
		v = 1
	}
	m.streamStale.WithLabelValues(stream).Set(v)
}

func (m *Metrics) setActive(counts map[string]int) {
	if m == nil {
		return
	}
	for _, kind := range []string{"threshold", "emergency", "accident"} {
		m.activeAlerts.WithLabelValues(kind).Set(float64(counts[kind]))
	}
}

func (m *Metrics) alertRaised(kind string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(kind).Inc()
}

func (m *Metrics) notified(err error) {
	if m == nil {
		return
	}
	m.notifyTotal.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) simulated(accidentType string, err error) {
	if m == nil {
		return
	}
	m.simulateTotal.WithLabelValues(accidentType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
