package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsEnqueuedTotal,
		jobsProcessedTotal,
		jobsRetriedTotal,
		jobProcessingMs,
		batchSizeObserved,
		queueDepth,
	)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, labeled by job type.",
		},
		[]string{"job_type"},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_processed_total",
			Help: "Total number of jobs finished by workers, labeled by job type and outcome.",
		},
		[]string{"job_type", "status"}, // 'completed', 'failed'
	)

	jobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_retried_total",
			Help: "Total number of jobs rescheduled for retry, labeled by job type.",
		},
		[]string{"job_type"},
	)

	jobProcessingMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_processing_ms",
			Help:    "Per-job processing latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"job_type"},
	)

	batchSizeObserved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_batch_claimed_jobs",
			Help:    "Number of jobs claimed per worker batch.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Eligible jobs waiting in the queue at last poll, labeled by job type.",
		},
		[]string{"job_type"},
	)
)

func IncEnqueued(jobType string) {
	jobsEnqueuedTotal.WithLabelValues(norm(jobType)).Inc()
}

func IncProcessed(jobType, status string) {
	jobsProcessedTotal.WithLabelValues(norm(jobType), norm(status)).Inc()
}

func IncRetried(jobType string) {
	jobsRetriedTotal.WithLabelValues(norm(jobType)).Inc()
}

func ObserveProcessing(jobType string, elapsedMs int64) {
	jobProcessingMs.WithLabelValues(norm(jobType)).Observe(float64(elapsedMs))
}

func ObserveBatch(claimed int) {
	batchSizeObserved.Observe(float64(claimed))
}

func SetQueueDepth(jobType string, depth int) {
	queueDepth.WithLabelValues(norm(jobType)).Set(float64(depth))
}
