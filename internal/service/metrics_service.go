package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the content zipper.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	exportsTotal    *prometheus.CounterVec
	exportDuration  *prometheus.HistogramVec
	exportEntries   *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
	queueDepth     atomic.Value
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	exportsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_exports_total",
		Help: "Content export runs by context type and terminal state",
	}, []string{"context_type", "state"})

	exportDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "content_export_duration_seconds",
		Help:    "Wall time of content export runs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"context_type"})

	exportEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_export_entries_total",
		Help: "Archive entries processed by outcome",
	}, []string{"context_type", "outcome"})

	m := &MetricsService{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		exportsTotal:    exportsTotal,
		exportDuration:  exportDuration,
		exportEntries:   exportEntries,
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "content_export_queue_depth",
		Help: "Content export jobs waiting for a worker",
	}, func() float64 {
		if fn, ok := m.queueDepth.Load().(func() int); ok && fn != nil {
			return float64(fn())
		}
		return 0
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHitRatio, cacheHits, cacheMisses,
		exportsTotal, exportDuration, exportEntries, goroutines, queueDepth)

	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveContentExport records one finished export run.
func (m *MetricsService) ObserveContentExport(contextType, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(contextType, state).Inc()
	m.exportDuration.WithLabelValues(contextType).Observe(duration.Seconds())
}

// AddContentExportEntries counts written and skipped archive entries.
func (m *MetricsService) AddContentExportEntries(contextType string, written, skipped int) {
	if m == nil {
		return
	}
	m.exportEntries.WithLabelValues(contextType, "written").Add(float64(written))
	m.exportEntries.WithLabelValues(contextType, "skipped").Add(float64(skipped))
}

// TrackQueueDepth exposes fn as the export queue depth gauge.
func (m *MetricsService) TrackQueueDepth(fn func() int) {
	if m == nil {
		return
	}
	m.queueDepth.Store(fn)
}
