package ai

import (
	"context"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Embedder = (*limitedEmbedder)(nil)

type limitedEmbedder struct {
	inner adapter.Embedder
	sem   chan struct{}
}

// NewLimitedEmbedder caps concurrent calls into inner.
func NewLimitedEmbedder(inner adapter.Embedder, maxConcurrent int) adapter.Embedder {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedEmbedder{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedEmbedder) Dimensions() int { return l.inner.Dimensions() }

func (l *limitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, domain.Transient("embed.acquire", ctx.Err())
	}
	defer func() { <-l.sem }()
	return l.inner.EmbedTexts(ctx, texts)
}
