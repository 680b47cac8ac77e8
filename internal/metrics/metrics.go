// Package metrics exposes Prometheus instrumentation for the job queue and
// the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all collectors registered by the service.
type Metrics struct {
	registry *prometheus.Registry

	queueRunning prometheus.Gauge
	queueWaiting prometheus.Gauge

	advancePasses prometheus.Counter
	jobsPromoted  prometheus.Counter
	jobsEvicted   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		queueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mink_queue_running_jobs",
			Help: "Number of jobs currently running on the Sparv server.",
		}),
		queueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mink_queue_waiting_jobs",
			Help: "Number of jobs waiting in the queue.",
		}),
		advancePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mink_queue_advance_passes_total",
			Help: "Number of queue advance passes executed.",
		}),
		jobsPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mink_queue_jobs_promoted_total",
			Help: "Number of waiting jobs started by the queue.",
		}),
		jobsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mink_queue_jobs_evicted_total",
			Help: "Number of inactive jobs removed from the queue.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mink_http_requests_total",
			Help: "Number of HTTP requests handled, by method, path and status code.",
		}, []string{"method", "path", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mink_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(
		m.queueRunning, m.queueWaiting,
		m.advancePasses, m.jobsPromoted, m.jobsEvicted,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// ObserveAdvance records the outcome of one queue advance pass.
func (m *Metrics) ObserveAdvance(running, waiting, promoted, evicted int) {
	m.queueRunning.Set(float64(running))
	m.queueWaiting.Set(float64(waiting))
	m.advancePasses.Inc()
	m.jobsPromoted.Add(float64(promoted))
	m.jobsEvicted.Add(float64(evicted))
}

// ObserveRequest records one handled HTTP request.
func (m *Metrics) ObserveRequest(method, path string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Handler returns the scrape endpoint for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
