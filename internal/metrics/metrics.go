// Package metrics exposes Prometheus collectors for the sync service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsListedTotal   prometheus.Counter
	recordsInsertedTotal prometheus.Counter
	recordsSkippedTotal  prometheus.Counter
	emptyResultsTotal    prometheus.Counter
	fetchRetriesTotal    prometheus.Counter
	syncRunsTotal        *prometheus.CounterVec
	syncDurationSeconds  prometheus.Histogram
	httpRequestsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		recordsListedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "resultsync_records_listed_total",
			Help: "Raw listing records retrieved from the gateway.",
		})
		recordsInsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "resultsync_records_inserted_total",
			Help: "Canonical records newly persisted.",
		})
		recordsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "resultsync_records_skipped_total",
			Help: "Canonical records skipped as duplicates.",
		})
		emptyResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "resultsync_empty_results_total",
			Help: "Detail fetches that exhausted empty-content retries.",
		})
		fetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "resultsync_fetch_retries_total",
			Help: "Transient-error retries of detail fetches.",
		})
		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resultsync_sync_runs_total",
				Help: "Orchestrator runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		syncDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "resultsync_sync_duration_seconds",
			Help:    "Wall-clock duration of orchestrator runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		})
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests served, labeled by route, method and code.",
			},
			[]string{"route", "method", "code"},
		)
	})
}

// AddRecordsListed counts raw listing records.
func AddRecordsListed(n int) {
	if recordsListedTotal != nil {
		recordsListedTotal.Add(float64(n))
	}
}

// AddRecordsInserted counts newly persisted records.
func AddRecordsInserted(n int) {
	if recordsInsertedTotal != nil {
		recordsInsertedTotal.Add(float64(n))
	}
}

// AddRecordsSkipped counts duplicate records.
func AddRecordsSkipped(n int) {
	if recordsSkippedTotal != nil {
		recordsSkippedTotal.Add(float64(n))
	}
}

// IncEmptyResults counts fetches degraded to the sentinel.
func IncEmptyResults() {
	if emptyResultsTotal != nil {
		emptyResultsTotal.Inc()
	}
}

// IncFetchRetries counts transient-error retries.
func IncFetchRetries() {
	if fetchRetriesTotal != nil {
		fetchRetriesTotal.Inc()
	}
}

// ObserveSyncRun records one orchestrator run outcome and duration.
func ObserveSyncRun(outcome string, d time.Duration) {
	if syncRunsTotal != nil {
		syncRunsTotal.WithLabelValues(outcome).Inc()
	}
	if syncDurationSeconds != nil {
		syncDurationSeconds.Observe(d.Seconds())
	}
}

// Middleware is a chi middleware that counts HTTP requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		if httpRequestsTotal == nil {
			return
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
