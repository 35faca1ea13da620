package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		embedTextsTotal,
		embedCallsLatencyMs,
		embedRejectedTotal,
	)
}

var (
	embedTextsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embed_texts_total",
			Help: "Texts sent to the embedding provider per provider/model.",
		},
		[]string{"provider", "model"},
	)

	embedCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embed_calls_latency_ms",
			Help:    "Embedding call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"provider", "model", "success"},
	)

	embedRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embed_rejected_total",
			Help: "Embedding calls rejected before reaching the provider.",
		},
		[]string{"reason"}, // 'rate_limited', 'breaker_open'
	)
)

func ObserveEmbedCall(provider, model string, texts int, latencyMs int64, success bool) {
	embedTextsTotal.WithLabelValues(norm(provider), norm(model)).Add(float64(texts))
	embedCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncEmbedRejected(reason string) {
	embedRejectedTotal.WithLabelValues(norm(reason)).Inc()
}
