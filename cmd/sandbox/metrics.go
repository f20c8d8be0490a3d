package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// execBuckets covers sandbox executions from a quick print to a block that
// waits on several llm_query calls.
var execBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300}

var (
	// RequestsTotal counts HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_sandbox_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// SessionsActive tracks live sandbox sessions.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rlm_sandbox_sessions_active",
			Help: "Active sandbox sessions",
		},
	)

	// SessionsStarted counts session starts by outcome.
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_sandbox_sessions_started_total",
			Help: "Session starts",
		},
		[]string{"status"},
	)

	// ExecutionsTotal counts code executions by outcome: ok, stderr (the code
	// failed inside the sandbox) or error (the session failed).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_sandbox_executions_total",
			Help: "Code executions",
		},
		[]string{"status"},
	)

	// ExecutionDuration records wall time of code executions in seconds.
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rlm_sandbox_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: execBuckets,
		},
	)

	// QueriesTotal counts llm_query callbacks made by sandboxed code.
	QueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rlm_sandbox_llm_queries_total",
			Help: "llm_query callbacks",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		SessionsActive,
		SessionsStarted,
		ExecutionsTotal,
		ExecutionDuration,
		QueriesTotal,
	)
}

// metricsMiddleware records rlm_sandbox_requests_total for every request.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status/100)+"xx").Inc()
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func observeExecution(d time.Duration, stderr string, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case stderr != "":
		status = "stderr"
	}
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDuration.Observe(d.Seconds())
}
