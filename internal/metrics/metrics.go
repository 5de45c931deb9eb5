package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecolojia",
			Name:      "eco_scores_total",
			Help:      "Eco scores resolved, by source",
		},
		[]string{"source"}, // "remote" / "heuristic"
	)

	RemoteScorerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ecolojia",
			Name:      "remote_scorer_duration_seconds",
			Help:      "Remote eco scorer call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	RemoteScorerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ecolojia",
			Name:      "remote_scorer_errors_total",
			Help:      "Remote eco scorer failures that fell back to the heuristic",
		},
	)

	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecolojia",
			Name:      "eco_score_batch_items_total",
			Help:      "Products processed by the eco score batch, by outcome",
		},
		[]string{"outcome"}, // "updated" / "error"
	)

	ClicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ecolojia",
			Name:      "affiliate_clicks_total",
			Help:      "Affiliate link clicks recorded",
		},
	)

	SearchSyncDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecolojia",
			Name:      "search_sync_documents_total",
			Help:      "Documents pushed to or removed from the search index",
		},
		[]string{"op"}, // "upsert" / "delete"
	)

	SimilarCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecolojia",
			Name:      "similar_cache_total",
			Help:      "Similar products cache hits and misses",
		},
		[]string{"result"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecolojia",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecolojia",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ScoresTotal,
			RemoteScorerDuration,
			RemoteScorerErrors,
			BatchItemsTotal,
			ClicksTotal,
			SearchSyncDocuments,
			SimilarCacheTotal,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}

// Middleware records HTTP request duration and count, labelled by chi route
// pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &StatusWriter{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(sw.Status)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// StatusWriter captures the response status code.
type StatusWriter struct {
	http.ResponseWriter
	Status      int
	wroteHeader bool
}

func (w *StatusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.Status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
