// Package search implements per-corpus hybrid retrieval (dense vector
// similarity fused with sparse lexical scores) and the cross-corpus recency
// re-ranker.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/dataset"
	"github.com/renux/dongrag/internal/embedder"
	"github.com/renux/dongrag/internal/preprocess"
	"github.com/renux/dongrag/internal/vectorstore"
)

// Result is one retrieved chunk with its fused score components.
type Result struct {
	Chunk  preprocess.Chunk
	Corpus corpus.Key
	Score  float64
	Dense  float64
	Sparse float64
}

// Searcher runs hybrid retrieval over the cached datasets.
type Searcher struct {
	datasets *dataset.Manager
	vectors  vectorstore.Index
	embedder embedder.Embedder
	alpha    float64
}

// NewSearcher creates a hybrid searcher. alpha weighs the dense component;
// 1-alpha weighs the sparse one.
func NewSearcher(datasets *dataset.Manager, vectors vectorstore.Index, emb embedder.Embedder, alpha float64) *Searcher {
	return &Searcher{datasets: datasets, vectors: vectors, embedder: emb, alpha: alpha}
}

// candidateFactor oversamples each leg of the retrieval so the fused ranking
// has enough candidates to pick from.
const candidateFactor = 3

// Search retrieves the topK best chunks of one corpus for the query. A
// non-nil filter restricts candidates to dense hits matching the payload
// equality, since sparse scores carry no metadata.
func (s *Searcher) Search(ctx context.Context, key corpus.Key, query string, topK int, filter *vectorstore.Filter) ([]Result, error) {
	spec, err := corpus.Get(key)
	if err != nil {
		return nil, err
	}
	ds, err := s.datasets.Ensure(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("Dataset '%s' unavailable: %w", key, err)
	}
	if len(ds.Chunks) == 0 {
		return nil, nil
	}

	fetch := candidateFactor * topK
	dense, err := s.denseScores(ctx, spec.Collection, query, fetch, filter)
	if err != nil {
		return nil, err
	}
	sparse := s.sparseScores(ds, query, fetch)

	var candidates map[string]bool
	if filter != nil {
		candidates = make(map[string]bool, len(dense))
		for id := range dense {
			candidates[id] = true
		}
	} else {
		candidates = make(map[string]bool, len(dense)+len(sparse))
		for id := range dense {
			candidates[id] = true
		}
		for id := range sparse {
			candidates[id] = true
		}
	}

	results := make([]Result, 0, len(candidates))
	for id := range candidates {
		chunk, ok := ds.Chunk(id)
		if !ok {
			// Dense hit for a chunk no longer in the table; stale index.
			continue
		}
		d := dense[id]
		sp := sparse[id]
		results = append(results, Result{
			Chunk:  chunk,
			Corpus: key,
			Score:  s.alpha*d + (1-s.alpha)*sp,
			Dense:  d,
			Sparse: sp,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkID < results[j].Chunk.ChunkID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// denseScores queries the vector index and clamps cosine scores into [0,1].
func (s *Searcher) denseScores(ctx context.Context, collection, query string, limit int, filter *vectorstore.Filter) (map[string]float64, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.vectors.Query(ctx, collection, embedding, limit, filter)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		score := h.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[h.ChunkID] = score
	}
	return scores, nil
}

// sparseScores ranks the dataset's rows lexically and keeps the top limit
// strictly positive scores.
func (s *Searcher) sparseScores(ds *dataset.Dataset, query string, limit int) map[string]float64 {
	qvec := ds.Model.Vectorizer.Transform(query)
	if qvec == nil {
		return nil
	}
	rowScores := ds.Model.Matrix.Scores(qvec)
	type rowScore struct {
		row   int
		score float64
	}
	positive := make([]rowScore, 0, limit)
	for i, sc := range rowScores {
		if sc > 0 {
			positive = append(positive, rowScore{row: i, score: sc})
		}
	}
	sort.Slice(positive, func(i, j int) bool { return positive[i].score > positive[j].score })
	if len(positive) > limit {
		positive = positive[:limit]
	}
	scores := make(map[string]float64, len(positive))
	for _, rs := range positive {
		scores[ds.Chunks[rs.row].ChunkID] = rs.score
	}
	return scores
}
