// Package embedder provides text embedding via an OpenAI-compatible
// embeddings endpoint.
package embedder

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable is returned when the embedding service cannot be
// reached or keeps failing past the retry budget.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, one vector per
	// input in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector size.
	Dimension() int

	// ModelName returns the model identifier.
	ModelName() string
}
