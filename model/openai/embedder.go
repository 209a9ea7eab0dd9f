package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/supportmesh/core"
)

// EmbedderOptions configure the OpenAI embedder.
type EmbedderOptions struct {
	Model      string
	Dimensions int
	APIKey     string
	BaseURL    string
}

// Embedder implements core.Embedder with the OpenAI Embeddings API.
type Embedder struct {
	client *openai.Client
	opts   EmbedderOptions
}

var _ core.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder using the official client.
func NewEmbedder(optFns ...func(o *EmbedderOptions)) *Embedder {
	opts := EmbedderOptions{
		Model:      openai.EmbeddingModelTextEmbedding3Small,
		Dimensions: 1536,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient(clientOptions(Options{APIKey: opts.APIKey, BaseURL: opts.BaseURL})...)

	return &Embedder{client: &client, opts: opts}
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int { return e.opts.Dimensions }

// Embed returns one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      e.opts.Model,
		Dimensions: openai.Int(int64(e.opts.Dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings error: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}

		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}

		out[d.Index] = vec
	}

	return out, nil
}
