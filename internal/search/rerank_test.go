package search

import (
	"testing"
	"time"

	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/preprocess"
)

func result(key corpus.Key, id string, score float64, published string) Result {
	return Result{
		Chunk:  preprocess.Chunk{ChunkID: id, PublishedAt: published, Text: id},
		Corpus: key,
		Score:  score,
	}
}

var rerankNow = time.Date(2024, 5, 15, 12, 0, 0, 0, preprocess.KST)

func TestRerankRecencyBreaksTies(t *testing.T) {
	results := []Result{
		result(corpus.Notices, "old", 0.8, "2023-01-01"),
		result(corpus.Notices, "new", 0.8, "2024-05-01"),
	}
	ranked := Rerank(results, "수강신청 안내", rerankNow, 0.2, 5)
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	if ranked[0].Chunk.ChunkID != "new" {
		t.Errorf("recency did not break the tie: %q first", ranked[0].Chunk.ChunkID)
	}
}

func TestRerankHybridDominatesWithLowWeight(t *testing.T) {
	results := []Result{
		result(corpus.Notices, "relevant", 0.9, "2023-01-01"),
		result(corpus.Notices, "recent", 0.1, "2024-05-01"),
	}
	ranked := Rerank(results, "장학금", rerankNow, 0.2, 5)
	if ranked[0].Chunk.ChunkID != "relevant" {
		t.Errorf("low recency weight should keep the relevant chunk first, got %q", ranked[0].Chunk.ChunkID)
	}
}

func TestRerankDateFilter(t *testing.T) {
	results := []Result{
		result(corpus.Schedule, "in-range", 0.5, "2024-05-14"),
		result(corpus.Schedule, "out-of-range", 0.9, "2024-03-01"),
		result(corpus.Schedule, "no-date", 0.9, ""),
		result(corpus.Staff, "undated-corpus", 0.4, ""),
	}
	ranked := Rerank(results, "어제 학사일정", rerankNow, 0.2, 5)
	ids := make(map[string]bool)
	for _, r := range ranked {
		ids[r.Chunk.ChunkID] = true
	}
	if !ids["in-range"] {
		t.Error("in-range row was dropped")
	}
	if ids["out-of-range"] {
		t.Error("out-of-range row survived the date filter")
	}
	if ids["no-date"] {
		t.Error("undated row in a dated corpus survived the date filter")
	}
	if !ids["undated-corpus"] {
		t.Error("row from an undated corpus was date-filtered")
	}
}

func TestRerankDateFilterCanEmpty(t *testing.T) {
	results := []Result{
		result(corpus.Notices, "old", 0.9, "2020-01-01"),
	}
	if ranked := Rerank(results, "오늘 공지", rerankNow, 0.2, 5); len(ranked) != 0 {
		t.Errorf("expected empty ranking, got %d rows", len(ranked))
	}
}

func TestRerankSingleCandidateFullWeight(t *testing.T) {
	results := []Result{result(corpus.Notices, "only", 0.3, "2024-01-01")}
	ranked := Rerank(results, "등록금", rerankNow, 0.2, 5)
	if len(ranked) != 1 {
		t.Fatalf("ranked = %d, want 1", len(ranked))
	}
	// Constant series normalize to 1, so the fused score is 1 as well.
	if diff := ranked[0].Score - 1; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("single candidate score = %f, want 1", ranked[0].Score)
	}
}

func TestRerankRecencyFallsBackToUpdatedAt(t *testing.T) {
	// Schedule rows carry their end date in UpdatedAt and may have no
	// publication date at all.
	results := []Result{
		{Chunk: preprocess.Chunk{ChunkID: "old", UpdatedAt: "2023-01-01"}, Corpus: corpus.Schedule, Score: 0.8},
		{Chunk: preprocess.Chunk{ChunkID: "new", UpdatedAt: "2024-05-01"}, Corpus: corpus.Schedule, Score: 0.8},
	}
	ranked := Rerank(results, "학사일정", rerankNow, 0.2, 5)
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	if ranked[0].Chunk.ChunkID != "new" {
		t.Errorf("updated_at did not feed the recency term: %q first", ranked[0].Chunk.ChunkID)
	}
}

func TestRerankAllDatesMissing(t *testing.T) {
	results := []Result{
		result(corpus.Staff, "a", 0.9, ""),
		result(corpus.Staff, "b", 0.5, ""),
	}
	ranked := Rerank(results, "학사지원팀 연락처", rerankNow, 0.5, 5)
	// With zero recency everywhere, order follows hybrid scores alone.
	if ranked[0].Chunk.ChunkID != "a" {
		t.Errorf("order changed although no row has a date: %q first", ranked[0].Chunk.ChunkID)
	}
	if ranked[0].Score != 0.5 {
		t.Errorf("score = %f, want hybrid share only (0.5)", ranked[0].Score)
	}
}

func TestRerankTopK(t *testing.T) {
	var results []Result
	for i := 0; i < 10; i++ {
		results = append(results, result(corpus.Notices, string(rune('a'+i)), float64(i)/10, "2024-05-01"))
	}
	ranked := Rerank(results, "공지", rerankNow, 0.2, 3)
	if len(ranked) != 3 {
		t.Fatalf("ranked = %d, want 3", len(ranked))
	}
	if ranked[0].Chunk.ChunkID != "j" {
		t.Errorf("best hybrid row not first: %q", ranked[0].Chunk.ChunkID)
	}
}

func TestRerankBounds(t *testing.T) {
	results := []Result{
		result(corpus.Notices, "x", 0.9, "2024-05-01"),
		result(corpus.Notices, "y", 0.2, "2023-01-01"),
		result(corpus.Notices, "z", 0.5, ""),
	}
	for _, r := range Rerank(results, "공지", rerankNow, 0.3, 5) {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("final score %f out of [0,1]", r.Score)
		}
	}
}
