package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		chunkWritesTotal,
		chunkVerifyDuration,
		integrityFailuresTotal,
	)
}

var (
	chunkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunk_writes_total",
			Help: "Chunk write outcomes by result.",
		},
		[]string{"result"}, // 'first_attempt', 'retried', 'failed', 'pruned'
	)

	chunkVerifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chunk_verify_duration_seconds",
			Help:    "Duration of the read-back verification after a chunk write.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	integrityFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunk_integrity_failures_total",
			Help: "Writes whose read-back disagreed with what was written.",
		},
	)
)

func AddChunkWrites(result string, n int) {
	if n <= 0 {
		return
	}
	chunkWritesTotal.WithLabelValues(norm(result)).Add(float64(n))
}

func ObserveVerify(d time.Duration) {
	chunkVerifyDuration.Observe(d.Seconds())
}

func IncIntegrityFailure() {
	integrityFailuresTotal.Inc()
}
