// Package vectorstore provides vector storage and dense similarity search.
package vectorstore

import "context"

// Record is one chunk to index: its text, embedding and flat metadata.
type Record struct {
	ChunkID   string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Hit is one dense search result.
type Hit struct {
	ChunkID  string
	Score    float64
	Text     string
	Metadata map[string]string
}

// Filter restricts a query to points whose payload key equals value.
type Filter struct {
	Key   string
	Value string
}

// Index is the vector storage interface.
type Index interface {
	// EnsureCollection creates the named collection with the given vector
	// dimension if it does not exist.
	EnsureCollection(ctx context.Context, collection string, dim int) error

	// Upsert writes records in batches; re-upserting a chunk id replaces
	// its point.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Delete removes the points for the given chunk ids.
	Delete(ctx context.Context, collection string, chunkIDs []string) error

	// Query returns the limit nearest points, optionally restricted by a
	// single-key equality filter.
	Query(ctx context.Context, collection string, embedding []float32, limit int, filter *Filter) ([]Hit, error)

	// AllIDs returns every chunk id stored in the collection.
	AllIDs(ctx context.Context, collection string) ([]string, error)

	Close() error
}
