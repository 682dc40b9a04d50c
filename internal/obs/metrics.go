package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generic HTTP metrics.
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Dispatch-domain metrics.
var (
	JobsPulledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_pulled_total",
			Help: "Jobs handed to agents via pullJobs.",
		},
		[]string{"job_type"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_completed_total",
			Help: "Jobs that reached a terminal state.",
		},
		[]string{"job_type", "outcome"},
	)

	RiskVetoTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_veto_total",
			Help: "isExecutionAllowed refusals, by reason.",
		},
		[]string{"reason"},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_heartbeats_total",
			Help: "Heartbeats received from agents.",
		},
	)
)

// Init registers every metric against the default registry. Called once at
// process startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		JobsPulledTotal, JobsCompletedTotal, RiskVetoTotal, HeartbeatsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses path segments that carry an identifier into a
// fixed placeholder, so per-request label values don't blow up Prometheus
// cardinality with one series per jobId/accountId ever seen.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	known := map[string]bool{
		"agent": true, "control": true, "jobs": true, "accounts": true,
		"agents": true, "results": true, "events": true, "screenshots": true,
		"control-state": true, "heartbeat": true, "register": true,
		"violations": true, "risk": true, "acknowledge": true, "job-results": true,
		"audit": true, "result": true, "metrics": true, "healthz": true, "readyz": true,
		"v1": true, "info": true, "pause": true, "score": true,
	}
	for i, seg := range segments {
		if seg == "" || known[seg] {
			continue
		}
		segments[i] = ":id"
	}
	return "/" + strings.Join(segments, "/")
}

// Instrument wraps a handler to record RPS/latency/in-flight for every route.
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

// statusWriter records the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
