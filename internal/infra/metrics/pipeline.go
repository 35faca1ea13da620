package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		stageDuration,
		stageRetriesTotal,
		pipelinesInFlight,
	)
}

var (
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"stage", "success"},
	)

	stageRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_retries_total",
			Help: "Retry attempts per pipeline stage.",
		},
		[]string{"stage"},
	)

	pipelinesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipelines_in_flight",
			Help: "Documents currently moving through the pipeline.",
		},
	)
)

func ObserveStage(stage string, d time.Duration, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	stageDuration.WithLabelValues(norm(stage), s).Observe(d.Seconds())
}

func IncStageRetry(stage string) {
	stageRetriesTotal.WithLabelValues(norm(stage)).Inc()
}

func IncPipelinesInFlight() { pipelinesInFlight.Inc() }
func DecPipelinesInFlight() { pipelinesInFlight.Dec() }
