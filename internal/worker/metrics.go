package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	activeJobs         prometheus.Gauge
	exportPixelsTotal  *prometheus.CounterVec
	exportBytesTotal   *prometheus.CounterVec
	resampledTotal     *prometheus.CounterVec
	computeTimeMSTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_worker_exports_total",
			Help: "Total export jobs by kind and final status.",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelframe_worker_export_duration_seconds",
			Help:    "Total duration of each export job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelframe_worker_active_exports",
			Help: "Current number of exports being rendered.",
		}),
		exportPixelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_worker_export_pixels_total",
			Help: "Total output pixels written by successful exports.",
		}, []string{"kind"}),
		exportBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_worker_export_bytes_total",
			Help: "Total PNG bytes written by successful exports.",
		}, []string{"kind"}),
		resampledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelframe_worker_export_resampled_total",
			Help: "Exports whose native raster had to be resampled to the target size.",
		}, []string{"kind"}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelframe_worker_compute_time_ms_total",
			Help: "Total render time in milliseconds across successful exports.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.exportPixelsTotal,
		m.exportBytesTotal,
		m.resampledTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
