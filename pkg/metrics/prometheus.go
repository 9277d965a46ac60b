package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector exported on /metrics
var Registry = newRegistry()

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

var factory = promauto.With(Registry)

var (
	// HTTP request metrics
	httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code", "role"},
	)

	httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// Mempool metrics
	mempoolSubmissionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mempool_submissions_total",
			Help: "Total number of mempool submissions by origin and result",
		},
		[]string{"origin", "result"},
	)

	mempoolAttachedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "mempool_attached_transactions_total",
			Help: "Total number of transactions attached to blocks",
		},
	)

	mempoolPrunedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "mempool_pruned_transactions_total",
			Help: "Total number of stuck transactions removed from the mempool",
		},
	)

	// Prover job metrics
	proverJobsEnqueuedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prover_jobs_enqueued_total",
			Help: "Total number of prover jobs inserted",
		},
		[]string{"round"},
	)

	proverLeasesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prover_leases_total",
			Help: "Total number of lease attempts by result",
		},
		[]string{"result"},
	)

	proverCompletionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prover_completions_total",
			Help: "Total number of job completions by outcome",
		},
		[]string{"outcome"},
	)

	proverReclaimedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "prover_jobs_reclaimed_total",
			Help: "Total number of stale leases returned to the queue",
		},
	)

	proverJobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prover_job_duration_seconds",
			Help:    "Time taken by workers to complete a job",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"round"},
	)

	// Queue depth
	queueEntries = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_entries",
			Help: "Current number of queue entries by status",
		},
		[]string{"queue", "status"},
	)

	// Database metrics
	dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	dbErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total number of database errors by operation",
		},
		[]string{"operation", "table"},
	)

	// Notifier metrics
	redisOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	systemErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "system_errors_total",
			Help: "Total number of system errors",
		},
		[]string{"error_type", "component"},
	)
)

// HTTP Metrics
func RecordHTTPRequest(method, endpoint, statusCode, role string, duration float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, role).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, statusCode).Observe(duration)
}

// Mempool Metrics
func RecordSubmission(origin, result string) {
	mempoolSubmissionsTotal.WithLabelValues(origin, result).Inc()
}

func RecordAttached(count int) {
	mempoolAttachedTotal.Add(float64(count))
}

func RecordPruned(count int64) {
	mempoolPrunedTotal.Add(float64(count))
}

// Prover Metrics
func RecordJobsEnqueued(round string, count int64) {
	proverJobsEnqueuedTotal.WithLabelValues(round).Add(float64(count))
}

func RecordLease(result string) {
	proverLeasesTotal.WithLabelValues(result).Inc()
}

func RecordCompletion(outcome, round string, seconds float64) {
	proverCompletionsTotal.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		proverJobDuration.WithLabelValues(round).Observe(seconds)
	}
}

func RecordReclaimed(count int) {
	proverReclaimedTotal.Add(float64(count))
}

// Queue Metrics
func SetQueueEntries(queue, status string, count float64) {
	queueEntries.WithLabelValues(queue, status).Set(count)
}

// Database Metrics
func RecordDBQuery(operation, table string, duration float64) {
	dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
}

func RecordDBError(operation, table string) {
	dbErrorsTotal.WithLabelValues(operation, table).Inc()
}

// Redis Metrics
func RecordRedisOperation(operation, status string) {
	redisOperationsTotal.WithLabelValues(operation, status).Inc()
}

// Application Metrics
func RecordSystemError(errorType, component string) {
	systemErrorsTotal.WithLabelValues(errorType, component).Inc()
}
