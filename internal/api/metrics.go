package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelframe/internal/studio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	gesturesHandled   *prometheus.CounterVec
	exportsTotal      *prometheus.CounterVec
	exportDuration    *prometheus.HistogramVec
}

func newMetrics(sessions *studio.Manager) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelframe_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_queue_exports_enqueued_total",
			Help: "Total export jobs enqueued for the worker.",
		}, []string{"queue"}),
		gesturesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_api_gesture_events_total",
			Help: "Input events routed to photo slots.",
		}, []string{"slot"}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_api_exports_total",
			Help: "Synchronous exports by kind and outcome.",
		}, []string{"kind", "outcome"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelframe_api_export_duration_seconds",
			Help:    "Synchronous export latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.gesturesHandled,
		m.exportsTotal,
		m.exportDuration,
	)
	if sessions != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pixelframe_api_live_sessions",
			Help: "Editing sessions currently held in memory.",
		}, func() float64 { return float64(sessions.Len()) }))
	}
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel replaces ids in a request path with their pattern names to keep
// label cardinality bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return path
	}

	switch parts[1] {
	case "sessions":
		parts[2] = "{id}"
		if len(parts) >= 5 && parts[3] == "slots" {
			parts[4] = "{slot}"
		}
		if len(parts) >= 5 && parts[3] == "export" {
			parts[4] = "{kind}"
		}
	case "jobs":
		parts[2] = "{id}"
	default:
		return path
	}
	return "/" + strings.Join(parts, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
