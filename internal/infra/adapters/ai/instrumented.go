package ai

import (
	"context"
	"time"

	"doc-ingest/internal/domain/ports/adapter"
	"doc-ingest/internal/infra/metrics"
)

var _ adapter.Embedder = (*instrumentedEmbedder)(nil)

type instrumentedEmbedder struct {
	inner    adapter.Embedder
	provider string
	model    string
}

func NewInstrumentedEmbedder(inner adapter.Embedder, provider, model string) adapter.Embedder {
	return &instrumentedEmbedder{inner: inner, provider: provider, model: model}
}

func (i *instrumentedEmbedder) Dimensions() int { return i.inner.Dimensions() }

func (i *instrumentedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out, err := i.inner.EmbedTexts(ctx, texts)
	metrics.ObserveEmbedCall(i.provider, i.model, len(texts), time.Since(start).Milliseconds(), err == nil)
	return out, err
}
