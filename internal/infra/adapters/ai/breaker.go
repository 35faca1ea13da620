package ai

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/ports/adapter"
	"doc-ingest/internal/infra/metrics"
)

var _ adapter.Embedder = (*breakerEmbedder)(nil)

type breakerEmbedder struct {
	inner adapter.Embedder
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder stops calling a failing provider for a cool-down period.
// Only transient failures count against the provider; rejected input does not.
func NewBreakerEmbedder(inner adapter.Embedder, name string, logger *zerolog.Logger) adapter.Embedder {
	log := logger.With().Str("component", "EmbedBreaker").Str("provider", name).Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsRetryable(err)
		},
	})
	return &breakerEmbedder{inner: inner, cb: cb}
}

func (b *breakerEmbedder) Dimensions() int { return b.inner.Dimensions() }

func (b *breakerEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.EmbedTexts(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.IncEmbedRejected("breaker_open")
			return nil, domain.Transient("embed.breaker", err)
		}
		return nil, err
	}
	return out.([][]float32), nil
}
