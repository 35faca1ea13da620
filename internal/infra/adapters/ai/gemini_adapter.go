// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/ports/adapter"
)

var _ adapter.Embedder = (*GeminiEmbedder)(nil)

type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiEmbedder creates a Gemini embedder using the official SDK.
func NewGeminiEmbedder(ctx context.Context, apiKey, baseURL, model string, dims int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "text-embedding-004"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{client: c, model: model, dims: dims}, nil
}

func (g *GeminiEmbedder) Dimensions() int { return g.dims }

func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}
	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if g.dims > 0 {
		d := int32(g.dims)
		cfg.OutputDimensionality = &d
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, classifyGemini(err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		n := 0
		if resp != nil {
			n = len(resp.Embeddings)
		}
		return nil, domain.Transient("gemini.EmbedContent", fmt.Errorf("got %d embeddings for %d inputs", n, len(texts)))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, domain.Transient("gemini.EmbedContent", fmt.Errorf("empty embedding at %d", i))
		}
		out[i] = append([]float32(nil), e.Values...)
	}
	return out, nil
}

func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return domain.Transient("gemini.EmbedContent", err)
		case apiErr.Code == http.StatusBadRequest:
			return domain.Structural("gemini.EmbedContent", err)
		}
	}
	return domain.Transient("gemini.EmbedContent", err)
}
