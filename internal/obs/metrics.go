package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Database metrics. Labels stay low-cardinality: the statement verb
// (select/insert/update/delete/other), never the statement text.
var (
	dbStatementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_statements_total",
			Help: "Total number of executed SQL statements.",
		},
		[]string{"verb", "outcome"},
	)

	dbStatementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_statement_duration_seconds",
			Help:    "SQL statement latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	dbTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_transactions_total",
			Help: "Total number of transaction scopes by final state.",
		},
		[]string{"outcome"},
	)
)

// HTTP metrics for the operational endpoints.
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
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(dbStatementsTotal, dbStatementDuration, dbTransactionsTotal,
		httpInFlight, httpRequestsTotal, httpRequestDuration)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with request count, latency and in-flight
// tracking. Paths are used as-is; the operational surface is small enough
// that cardinality is not a concern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ObserveStatement records one executed statement.
func ObserveStatement(verb string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	dbStatementsTotal.WithLabelValues(verb, outcome).Inc()
	dbStatementDuration.WithLabelValues(verb).Observe(elapsed.Seconds())
}

// ObserveTransaction records the final state of one atomic scope.
func ObserveTransaction(outcome string) {
	dbTransactionsTotal.WithLabelValues(outcome).Inc()
}
