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

// MetricsService encapsulates Prometheus instrumentation for the dispatcher
// and its ops endpoints.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	notifications   *prometheus.CounterVec
	triggerDuration *prometheus.HistogramVec
	triggerRuns     *prometheus.CounterVec
	misfires        *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	catalogSessions prometheus.Gauge
	subscribers     prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
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

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Per-subscriber notification outcomes by job",
	}, []string{"job", "outcome"})

	triggerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of trigger job bodies",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"trigger"})

	triggerRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_runs_total",
		Help: "Trigger executions by status",
	}, []string{"trigger", "status"})

	misfires := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_misfires_total",
		Help: "Daily triggers skipped because their grace window elapsed",
	}, []string{"trigger"})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_total",
		Help: "Catalog and directory refreshes by status",
	}, []string{"status"})

	catalogSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_sessions",
		Help: "Course sessions in the current catalog snapshot",
	})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subscribers",
		Help: "Subscribers in the current directory snapshot",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHitRatio, cacheHits, cacheMisses,
		notifications, triggerDuration, triggerRuns, misfires, refreshes, catalogSessions, subscribers, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		notifications:   notifications,
		triggerDuration: triggerDuration,
		triggerRuns:     triggerRuns,
		misfires:        misfires,
		refreshes:       refreshes,
		catalogSessions: catalogSessions,
		subscribers:     subscribers,
	}
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
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// RecordNotification counts one per-subscriber outcome of a job.
func (m *MetricsService) RecordNotification(job, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(job, outcome).Inc()
}

// ObserveTrigger records the duration and status of a trigger run.
func (m *MetricsService) ObserveTrigger(name string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.triggerDuration.WithLabelValues(name).Observe(duration.Seconds())
	m.triggerRuns.WithLabelValues(name, status).Inc()
}

// ObserveMisfire counts a skipped daily trigger.
func (m *MetricsService) ObserveMisfire(name string) {
	if m == nil {
		return
	}
	m.misfires.WithLabelValues(name).Inc()
}

// RecordRefresh records a refresh outcome and the resulting snapshot sizes.
func (m *MetricsService) RecordRefresh(status string, sessions, subscribers int) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(status).Inc()
	m.catalogSessions.Set(float64(sessions))
	m.subscribers.Set(float64(subscribers))
}
