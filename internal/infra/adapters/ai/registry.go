package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"doc-ingest/internal/config"
	"doc-ingest/internal/domain/ports/adapter"
	red "doc-ingest/internal/infra/redis"
)

type factory func(ctx context.Context, cfg config.EmbeddingConfig) (adapter.Embedder, error)

// providers is resolved once at startup; unknown names are a config error.
var providers = map[string]factory{
	"openai": func(_ context.Context, cfg config.EmbeddingConfig) (adapter.Embedder, error) {
		return NewOpenAIEmbedder(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.Dimensions)
	},
	"gemini": func(ctx context.Context, cfg config.EmbeddingConfig) (adapter.Embedder, error) {
		return NewGeminiEmbedder(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.Model, cfg.Dimensions)
	},
	"hash": func(_ context.Context, cfg config.EmbeddingConfig) (adapter.Embedder, error) {
		return NewHashEmbedder(cfg.Dimensions), nil
	},
}

// NewEmbedder builds the configured provider and wraps it, outermost first, in
// the concurrency limit, the shared rate limit, the circuit breaker and metrics.
// limiter may be nil when no Redis is configured.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig, limiter adapter.RateLimiter, logger *zerolog.Logger) (adapter.Embedder, error) {
	name := strings.ToLower(cfg.Provider)
	f, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	base, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding provider %s: %w", name, err)
	}

	var e adapter.Embedder = NewInstrumentedEmbedder(base, name, cfg.Model)
	e = NewBreakerEmbedder(e, name, logger)
	e = NewRateLimitedEmbedder(e, limiter, red.EmbedKey(name), cfg.RatePerMinute)
	return NewLimitedEmbedder(e, cfg.ConcurrentLimit), nil
}
