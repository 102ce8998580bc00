package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bilgece/retrieval/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchRequestsTotal   *prometheus.CounterVec
	searchResults         *prometheus.HistogramVec
	strategyFailuresTotal *prometheus.CounterVec
	cacheOpsTotal         *prometheus.CounterVec
	invalidationsTotal    *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bilgece",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bilgece",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bilgece",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bilgece",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total served search requests by degradation level and cache outcome.",
		},
		[]string{"service", "level", "cache"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bilgece",
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of fused result counts per served request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service"},
	)
	strategyFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bilgece",
			Subsystem: "search",
			Name:      "strategy_failures_total",
			Help:      "Total retrieval strategy failures tolerated by the fusion barrier.",
		},
		[]string{"service", "strategy"},
	)
	cacheOpsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bilgece",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by tier and outcome.",
		},
		[]string{"tier", "result"},
	)
	invalidationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bilgece",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache invalidations by trigger.",
		},
		[]string{"service", "trigger"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchRequestsTotal,
		searchResults,
		strategyFailuresTotal,
		cacheOpsTotal,
		invalidationsTotal,
	)

	return &HTTPServerMetrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		searchRequestsTotal:   searchRequestsTotal,
		searchResults:         searchResults,
		strategyFailuresTotal: strategyFailuresTotal,
		cacheOpsTotal:         cacheOpsTotal,
		invalidationsTotal:    invalidationsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CacheCounter is handed to the result cache so lookups land in the same
// registry as everything else.
func (m *HTTPServerMetrics) CacheCounter() *prometheus.CounterVec {
	return m.cacheOpsTotal
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordInvalidation(service, trigger string) {
	if trigger == "" {
		trigger = "unknown"
	}
	m.invalidationsTotal.WithLabelValues(service, trigger).Inc()
}

// SearchObserver adapts the registry to the orchestrator's reporting
// contract.
type SearchObserver struct {
	service string
	metrics *HTTPServerMetrics
}

func (m *HTTPServerMetrics) SearchObserver(service string) *SearchObserver {
	return &SearchObserver{service: service, metrics: m}
}

func (o *SearchObserver) SearchServed(level domain.DegradationLevel, cacheHit bool, results int) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	o.metrics.searchRequestsTotal.WithLabelValues(o.service, level.String(), cache).Inc()
	o.metrics.searchResults.WithLabelValues(o.service).Observe(float64(results))
}

func (o *SearchObserver) StrategyFailed(strategy string) {
	o.metrics.strategyFailuresTotal.WithLabelValues(o.service, strategy).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
