package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"doc-ingest/internal/domain/ports/adapter"
)

var _ adapter.Embedder = (*HashEmbedder)(nil)

// HashEmbedder is an offline embedder for local/dev runs and tests. It hashes
// word tokens into a fixed number of buckets and L2-normalises the result, so
// equal texts always produce equal vectors.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	v := make([]float32, h.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(w))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(h.dims)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		v[bucket] += sign
	}
	var norm float64
	for _, f := range v {
		norm += float64(f * f)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
