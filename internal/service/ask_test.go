package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/renux/dongrag/internal/answer"
	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/dataset"
	"github.com/renux/dongrag/internal/history"
	"github.com/renux/dongrag/internal/llm"
	"github.com/renux/dongrag/internal/preprocess"
	"github.com/renux/dongrag/internal/router"
	"github.com/renux/dongrag/internal/search"
	"github.com/renux/dongrag/internal/sparse"
	"github.com/renux/dongrag/internal/vectorstore"
)

// scriptedLLM answers the router's JSON-mode call with a fixed route and
// every other call with a fixed answer.
type scriptedLLM struct {
	route  string
	answer string
}

func (s *scriptedLLM) Chat(_ context.Context, _ []llm.Message, opts llm.Options) (string, error) {
	if opts.JSONMode {
		return s.route, nil
	}
	return s.answer, nil
}

func (s *scriptedLLM) ModelName() string { return "scripted" }

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (stubEmbedder) Dimension() int    { return 3 }
func (stubEmbedder) ModelName() string { return "stub" }

type stubIndex struct{}

func (stubIndex) EnsureCollection(context.Context, string, int) error          { return nil }
func (stubIndex) Upsert(context.Context, string, []vectorstore.Record) error   { return nil }
func (stubIndex) Delete(context.Context, string, []string) error               { return nil }
func (stubIndex) AllIDs(context.Context, string) ([]string, error)             { return nil, nil }
func (stubIndex) Close() error                                                 { return nil }
func (stubIndex) Query(context.Context, string, []float32, int, *vectorstore.Filter) ([]vectorstore.Hit, error) {
	return nil, nil
}

func writeCorpus(t *testing.T, chunksDir, vecDir string, key corpus.Key, docs []preprocess.Document) {
	t.Helper()
	spec, _ := corpus.Get(key)
	chunks := preprocess.ToChunks(docs, 0, 0, spec.IncludeTitle)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if err := dataset.SaveChunks(filepath.Join(chunksDir, spec.ChunkFile), chunks); err != nil {
		t.Fatal(err)
	}
	if err := sparse.FitModel(texts, 0).Save(filepath.Join(vecDir, spec.SparseFile)); err != nil {
		t.Fatal(err)
	}
}

func newTestService(t *testing.T, client llm.Client) (*AskService, history.Store) {
	t.Helper()
	dir := t.TempDir()
	chunksDir := filepath.Join(dir, "chunks")
	vecDir := filepath.Join(dir, "vectorizers")
	writeCorpus(t, chunksDir, vecDir, corpus.Notices, []preprocess.Document{
		{DocID: preprocess.MakeDocID("수강신청 안내"), Title: "수강신청 안내",
			Text: "수강신청은 8월 1일부터 시작됩니다", PublishedAt: "2024-05-01",
			URL: "https://example.ac.kr/1"},
		{DocID: preprocess.MakeDocID("장학금 공지"), Title: "장학금 공지",
			Text: "국가장학금 신청 안내입니다", PublishedAt: "2024-05-02"},
	})
	writeCorpus(t, chunksDir, vecDir, corpus.Schedule, []preprocess.Document{
		{DocID: preprocess.MakeDocID("수강신청 기간"), Title: "수강신청 기간",
			Text: "학사일정: 수강신청 기간: 2024-08-01 ~ 2024-08-05", PublishedAt: "2024-08-01"},
	})

	logger := slog.New(slog.DiscardHandler)
	datasets := dataset.NewManager(chunksDir, vecDir, nil, logger)
	searcher := search.NewSearcher(datasets, stubIndex{}, stubEmbedder{}, 0.4)
	generator := answer.NewGenerator(client, 8000, 10)
	r, err := router.New(client, logger)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	hist := history.NewMemoryStore(10)
	t.Cleanup(func() { hist.Close() })
	svc := NewAskService(r, searcher, generator, hist, datasets, logger, 5, 0.2)
	svc.now = func() time.Time { return time.Date(2024, 5, 15, 10, 0, 0, 0, preprocess.KST) }
	return svc, hist
}

func TestAskEndToEnd(t *testing.T) {
	client := &scriptedLLM{
		route:  `{"names": ["notices", "schedule"]}`,
		answer: "수강신청은 8월 1일부터입니다.",
	}
	svc, _ := newTestService(t, client)

	resp, err := svc.Ask(context.Background(), AskRequest{Question: "수강신청 언제부터야?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != "수강신청은 8월 1일부터입니다." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Route) != 2 || resp.Route[0] != "notices" || resp.Route[1] != "schedule" {
		t.Errorf("route = %v", resp.Route)
	}
	if len(resp.Sources) == 0 {
		t.Fatal("no sources")
	}
	// Both corpora contributed candidates.
	seen := make(map[string]bool)
	for _, s := range resp.Sources {
		seen[s.Corpus] = true
	}
	if !seen["notices"] || !seen["schedule"] {
		t.Errorf("sources from %v, want both corpora", seen)
	}
	if len(resp.Citations) == 0 {
		t.Error("no citations")
	}
}

func TestAskRecordsHistoryInOrder(t *testing.T) {
	client := &scriptedLLM{route: `{"names": ["notices"]}`, answer: "답변입니다."}
	svc, hist := newTestService(t, client)

	if _, err := svc.Ask(context.Background(), AskRequest{Question: "질문입니다", SessionID: "sess-1"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	msgs, err := hist.Get(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("history.Get: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history = %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "질문입니다" {
		t.Errorf("first turn = %+v, want the user question", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "답변입니다." {
		t.Errorf("second turn = %+v, want the assistant answer", msgs[1])
	}
}

func TestAskWithoutSessionSkipsHistory(t *testing.T) {
	client := &scriptedLLM{route: `{"names": ["notices"]}`, answer: "답변."}
	svc, hist := newTestService(t, client)

	if _, err := svc.Ask(context.Background(), AskRequest{Question: "질문"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if msgs, _ := hist.Get(context.Background(), "", 10); len(msgs) != 0 {
		t.Errorf("sessionless ask wrote history: %+v", msgs)
	}
}

func TestAskDatasetUnavailable(t *testing.T) {
	// Router sends the question to a corpus with no artifacts.
	client := &scriptedLLM{route: `{"names": ["staff"]}`, answer: "무관"}
	svc, _ := newTestService(t, client)

	_, err := svc.Ask(context.Background(), AskRequest{Question: "학사지원팀 연락처"})
	if err == nil {
		t.Fatal("expected error for missing corpus artifacts")
	}
	if !strings.Contains(err.Error(), "Dataset 'staff' unavailable") {
		t.Errorf("err = %v, want dataset-unavailable message", err)
	}
}

func TestHealthCounts(t *testing.T) {
	client := &scriptedLLM{route: `{"names": ["notices"]}`, answer: "답."}
	svc, _ := newTestService(t, client)

	if _, err := svc.Ask(context.Background(), AskRequest{Question: "아무거나"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	counts := svc.Health()
	if counts["notices"] != 2 {
		t.Errorf("notices count = %d, want 2", counts["notices"])
	}
	if counts["rules"] != 0 {
		t.Errorf("rules count = %d, want 0 for unloaded corpus", counts["rules"])
	}
}
