package ai

import (
	"context"
	"time"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/ports/adapter"
	"doc-ingest/internal/infra/metrics"
)

var _ adapter.Embedder = (*rateLimitedEmbedder)(nil)

type rateLimitedEmbedder struct {
	inner   adapter.Embedder
	limiter adapter.RateLimiter
	key     string
	limit   int
	window  time.Duration
}

// NewRateLimitedEmbedder shares a per-minute call budget across every worker
// through limiter. A denied call fails as transient and is retried later.
func NewRateLimitedEmbedder(inner adapter.Embedder, limiter adapter.RateLimiter, key string, perMinute int) adapter.Embedder {
	if limiter == nil || perMinute <= 0 {
		return inner
	}
	return &rateLimitedEmbedder{inner: inner, limiter: limiter, key: key, limit: perMinute, window: time.Minute}
}

func (r *rateLimitedEmbedder) Dimensions() int { return r.inner.Dimensions() }

func (r *rateLimitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ok, err := r.limiter.Allow(ctx, r.key, r.limit, r.window)
	if err != nil {
		return nil, domain.Transient("embed.rate_limit", err)
	}
	if !ok {
		metrics.IncEmbedRejected("rate_limited")
		return nil, domain.Transient("embed.rate_limit", domain.ErrRateLimited)
	}
	return r.inner.EmbedTexts(ctx, texts)
}
