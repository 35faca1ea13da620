package adapter

import "context"

// Embedder is the port for embedding providers.
type Embedder interface {
	// EmbedTexts returns one vector per input, in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the fixed vector size, 0 when the provider decides.
	Dimensions() int
}
