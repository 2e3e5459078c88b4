package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	submissionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_created_total",
			Help: "Submissions accepted into the ledger, by module kind.",
		},
		[]string{"kind"},
	)

	submissionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submission_transitions_total",
			Help: "Successful submission status transitions.",
		},
		[]string{"kind", "to"},
	)

	auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_dropped_total",
		Help: "Audit events that could not be persisted and were dropped.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		submissionsCreated,
		submissionTransitions,
		auditDropped,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SubmissionCreated bumps the per-kind creation counter.
func SubmissionCreated(kind string) {
	submissionsCreated.WithLabelValues(kind).Inc()
}

// SubmissionTransition bumps the per-kind transition counter.
func SubmissionTransition(kind, to string) {
	submissionTransitions.WithLabelValues(kind, to).Inc()
}

// AuditDropped counts an audit event lost to a storage failure.
func AuditDropped() {
	auditDropped.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/modules/"); ok {
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		switch {
		case len(parts) == 2 && (parts[1] == "submit" || parts[1] == "list"):
			return "/v1/modules/:kind/" + parts[1]
		case len(parts) == 3 && parts[1] == "get":
			return "/v1/modules/:kind/get/:id"
		case len(parts) == 4 && parts[1] == "get" && parts[3] == "download":
			return "/v1/modules/:kind/get/:id/download"
		}
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/v1/sessions/"); ok {
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) == 2 && parts[1] == "revoke" {
			return "/v1/sessions/:id/revoke"
		}
		return path
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
