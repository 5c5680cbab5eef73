package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of response time for handler",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_fetch_total",
			Help: "Metrics API calls by metric and outcome",
		},
		[]string{"metric", "status"},
	)

	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "etl_fetch_duration_seconds",
			Help:    "Latency of metrics API calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"metric"},
	)

	rowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_rows_written_total",
			Help: "Rows sent to upsert statements by table",
		},
		[]string{"table"},
	)

	dimensionLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_dimension_lookups_total",
			Help: "Dimension key resolutions by outcome",
		},
		[]string{"outcome"},
	)

	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_job_runs_total",
			Help: "ETL job runs by job and outcome",
		},
		[]string{"job_name", "status"},
	)

	relayPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_relay_published_total",
			Help: "Metric events published to the relay topic",
		},
		[]string{"status"},
	)

	relayConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_relay_consumed_total",
			Help: "Relay messages handled by the consumer",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		fetchTotal,
		fetchDuration,
		rowsWrittenTotal,
		dimensionLookupsTotal,
		jobRunsTotal,
		relayPublishedTotal,
		relayConsumedTotal,
	)
}

func ObserveFetch(metricName, status string, d time.Duration) {
	fetchTotal.WithLabelValues(metricName, status).Inc()
	fetchDuration.WithLabelValues(metricName).Observe(d.Seconds())
}

func AddRowsWritten(table string, n int) {
	rowsWrittenTotal.WithLabelValues(table).Add(float64(n))
}

func ObserveDimensionLookup(outcome string) {
	dimensionLookupsTotal.WithLabelValues(outcome).Inc()
}

func ObserveJobRun(job string, err error) {
	jobRunsTotal.WithLabelValues(job, status(err)).Inc()
}

func ObservePublish(err error) {
	relayPublishedTotal.WithLabelValues(status(err)).Inc()
}

func ObserveConsumed(status string) {
	relayConsumedTotal.WithLabelValues(status).Inc()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}

	return "success"
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rr := &responseRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rr, r)

		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rr.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}
