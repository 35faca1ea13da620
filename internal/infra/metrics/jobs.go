package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsEnqueuedTotal,
		jobsProcessedTotal,
		jobQueueWaitSeconds,
		jobsRequeuedStaleTotal,
		jobsInFlight,
	)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Jobs inserted into the queue, labeled by type.",
		},
		[]string{"type"},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Jobs finished by a worker, labeled by type and outcome.",
		},
		[]string{"type", "outcome"}, // 'done', 'retry', 'failed', 'cancelled'
	)

	jobQueueWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_queue_wait_seconds",
			Help:    "Time between job creation and dequeue.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"type"},
	)

	jobsRequeuedStaleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_requeued_stale_total",
			Help: "RUNNING jobs whose worker lease expired.",
		},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "Jobs currently held by this worker process.",
		},
	)
)

func IncJobEnqueued(jobType string) {
	jobsEnqueuedTotal.WithLabelValues(norm(jobType)).Inc()
}

func IncJobProcessed(jobType, outcome string) {
	jobsProcessedTotal.WithLabelValues(norm(jobType), norm(outcome)).Inc()
}

func ObserveQueueWait(jobType string, d time.Duration) {
	jobQueueWaitSeconds.WithLabelValues(norm(jobType)).Observe(d.Seconds())
}

func AddStaleRequeued(n int) {
	jobsRequeuedStaleTotal.Add(float64(n))
}

func IncJobsInFlight() { jobsInFlight.Inc() }
func DecJobsInFlight() { jobsInFlight.Dec() }
