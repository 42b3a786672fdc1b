package search

import (
	"sort"
	"time"

	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/preprocess"
)

// Rerank merges per-corpus hybrid results into one ranking. When the query
// names a date or period, rows from dated corpora are first filtered to that
// range. Hybrid scores and publication recency are then min-max normalized
// and fused: final = (1-weight)*hybrid + weight*recency.
func Rerank(results []Result, query string, now time.Time, weight float64, topK int) []Result {
	if len(results) == 0 {
		return nil
	}

	if dr, ok := preprocess.ExtractDateRange(query, now); ok {
		filtered := results[:0:0]
		for _, r := range results {
			if !corpusHasDates(r.Corpus) {
				filtered = append(filtered, r)
				continue
			}
			if dr.InRange(r.Chunk.PublishedAt) {
				filtered = append(filtered, r)
			}
		}
		results = filtered
		if len(results) == 0 {
			return nil
		}
	}

	hybrid := normalize(scoresOf(results))
	ts, dated := recencyOf(results)
	recency := ts
	if dated {
		recency = normalize(ts)
	}

	ranked := make([]Result, len(results))
	copy(ranked, results)
	for i := range ranked {
		ranked[i].Score = (1-weight)*hybrid[i] + weight*recency[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

func corpusHasDates(key corpus.Key) bool {
	spec, err := corpus.Get(key)
	return err == nil && spec.HasDateField
}

func scoresOf(results []Result) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Score
	}
	return out
}

// recencyOf maps each row's date onto a timestamp, taking published_at and
// falling back to updated_at (the end date on schedule rows). Rows without a
// parseable date take the minimum, so they never gain from the recency term.
// The second return is false when no row carries a date, in which case the
// caller must not normalize the all-zero series into all ones.
func recencyOf(results []Result) ([]float64, bool) {
	ts := make([]float64, len(results))
	has := make([]bool, len(results))
	min := 0.0
	any := false
	for i, r := range results {
		t, err := time.Parse("2006-01-02", r.Chunk.PublishedAt)
		if err != nil {
			t, err = time.Parse("2006-01-02", r.Chunk.UpdatedAt)
		}
		if err != nil {
			continue
		}
		ts[i] = float64(t.Unix())
		has[i] = true
		if !any || ts[i] < min {
			min = ts[i]
		}
		any = true
	}
	if !any {
		return ts, false
	}
	for i := range ts {
		if !has[i] {
			ts[i] = min
		}
	}
	return ts, true
}

// normalize min-max scales values into [0,1]. A constant series maps to all
// ones, so a lone candidate keeps full weight.
func normalize(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}
