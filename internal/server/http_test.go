package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/renux/dongrag/internal/admin"
	"github.com/renux/dongrag/internal/answer"
	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/dataset"
	"github.com/renux/dongrag/internal/history"
	"github.com/renux/dongrag/internal/llm"
	"github.com/renux/dongrag/internal/preprocess"
	"github.com/renux/dongrag/internal/repository/sqlite"
	"github.com/renux/dongrag/internal/router"
	"github.com/renux/dongrag/internal/search"
	"github.com/renux/dongrag/internal/service"
	"github.com/renux/dongrag/internal/sparse"
	"github.com/renux/dongrag/internal/vectorstore"
)

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

type fakeIndex struct {
	mu   sync.Mutex
	fail bool
}

func (f *fakeIndex) EnsureCollection(context.Context, string, int) error { return nil }
func (f *fakeIndex) Upsert(context.Context, string, []vectorstore.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("vector store down")
	}
	return nil
}
func (f *fakeIndex) Delete(context.Context, string, []string) error { return nil }
func (f *fakeIndex) Query(context.Context, string, []float32, int, *vectorstore.Filter) ([]vectorstore.Hit, error) {
	return nil, nil
}
func (f *fakeIndex) AllIDs(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeIndex) Close() error                                     { return nil }

func seedNotices(t *testing.T, dir string) (string, string) {
	t.Helper()
	spec, _ := corpus.Get(corpus.Notices)
	chunksDir := filepath.Join(dir, "chunks")
	vecDir := filepath.Join(dir, "vectorizers")
	docs := []preprocess.Document{{
		DocID: preprocess.MakeDocID("수강신청 안내"), Title: "수강신청 안내",
		Text: "수강신청은 8월 1일부터 시작됩니다", PublishedAt: "2024-05-01",
		URL: "https://example.ac.kr/1",
	}}
	chunks := preprocess.ToChunks(docs, 0, 0, spec.IncludeTitle)
	if err := dataset.SaveChunks(filepath.Join(chunksDir, spec.ChunkFile), chunks); err != nil {
		t.Fatal(err)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if err := sparse.FitModel(texts, 0).Save(filepath.Join(vecDir, spec.SparseFile)); err != nil {
		t.Fatal(err)
	}
	return chunksDir, vecDir
}

func newTestServer(t *testing.T, client llm.Client) (*Server, *fakeIndex) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	chunksDir, vecDir := seedNotices(t, t.TempDir())
	datasets := dataset.NewManager(chunksDir, vecDir, nil, logger)
	index := &fakeIndex{}
	emb := stubEmbedder{}

	searcher := search.NewSearcher(datasets, index, emb, 0.4)
	generator := answer.NewGenerator(client, 8000, 10)
	r, err := router.New(client, logger)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	hist := history.NewMemoryStore(10)
	t.Cleanup(func() { hist.Close() })
	ask := service.NewAskService(r, searcher, generator, hist, datasets, logger, 5, 0.2)

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	moderator := admin.New(store, index, emb, datasets, logger)

	return New(0, ask, moderator, logger), index
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var parsed map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return rec, parsed
}

func TestAskEmptyQuestion(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{route: `{"names":["notices"]}`, answer: "답"})
	h := srv.Routes()

	rec, body := doJSON(t, h, http.MethodPost, "/ask", `{"question":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body["detail"] != "질문이 비어 있습니다." {
		t.Errorf("detail = %q", body["detail"])
	}
}

func TestAskMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{route: `{"names":["notices"]}`, answer: "답"})
	rec, _ := doJSON(t, srv.Routes(), http.MethodPost, "/ask", `질문만 덜렁`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAskSuccess(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{
		route:  `{"names":["notices"]}`,
		answer: "수강신청은 8월 1일부터입니다.",
	})
	rec, body := doJSON(t, srv.Routes(), http.MethodPost, "/ask",
		`{"question":"수강신청 언제부터야?","sessionId":"sess-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body["answer"] != "수강신청은 8월 1일부터입니다." {
		t.Errorf("answer = %q", body["answer"])
	}
	routes, _ := body["route"].([]any)
	if len(routes) != 1 || routes[0] != "notices" {
		t.Errorf("route = %v", body["route"])
	}
	if _, ok := body["sources"].([]any); !ok {
		t.Errorf("sources missing: %v", body["sources"])
	}
}

func TestAskDatasetUnavailable(t *testing.T) {
	// Routed to a corpus whose artifacts were never built.
	srv, _ := newTestServer(t, &scriptedLLM{route: `{"names":["staff"]}`, answer: "무관"})
	rec, body := doJSON(t, srv.Routes(), http.MethodPost, "/ask", `{"question":"학사지원팀 연락처"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	detail, _ := body["detail"].(string)
	if !strings.Contains(detail, "Dataset 'staff' unavailable") {
		t.Errorf("detail = %q, want dataset-unavailable message", detail)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{route: `{"names":["notices"]}`, answer: "답"})
	rec, body := doJSON(t, srv.Routes(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if _, ok := body["datasets"].(map[string]any); !ok {
		t.Errorf("datasets = %v, want per-corpus counts", body["datasets"])
	}
}

func TestModerationFlow(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{route: `{"names":["notices"]}`, answer: "답"})
	h := srv.Routes()

	// Submit.
	rec, body := doJSON(t, h, http.MethodPost, "/admin/submit",
		`{"source_type":"announcement","data":{"title":"특강 안내","content":"금요일 오후 특강이 열립니다."}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "ok" {
		t.Errorf("submit status field = %v", body["status"])
	}
	id, ok := body["id"].(float64)
	if !ok || id <= 0 {
		t.Fatalf("submit id = %v", body["id"])
	}

	// Pending lists it.
	rec, body = doJSON(t, h, http.MethodGet, "/admin/pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pending status = %d", rec.Code)
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("pending items = %d, want 1", len(items))
	}
	item, _ := items[0].(map[string]any)
	if item["source_type"] != "announcement" || item["status"] != "pending" {
		t.Errorf("pending item = %v", item)
	}
	if _, ok := item["data"].(map[string]any); !ok {
		t.Errorf("data not embedded as an object: %v", item["data"])
	}

	// Approve.
	rec, body = doJSON(t, h, http.MethodPost, fmt.Sprintf("/admin/approve/%d", int64(id)), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "approved" {
		t.Errorf("approve status field = %v", body["status"])
	}
	if cid, _ := body["chunk_id"].(string); cid == "" {
		t.Error("approve returned no chunk_id")
	}

	// Approving twice is a client error.
	rec, _ = doJSON(t, h, http.MethodPost, fmt.Sprintf("/admin/approve/%d", int64(id)), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second approve status = %d, want 400", rec.Code)
	}
}

func TestRejectFlow(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{route: `{"names":["notices"]}`, answer: "답"})
	h := srv.Routes()

	_, body := doJSON(t, h, http.MethodPost, "/admin/submit",
		`{"source_type":"announcement","data":{"title":"거절될 공지","content":"본문"}}`)
	id := int64(body["id"].(float64))

	rec, body := doJSON(t, h, http.MethodPost, fmt.Sprintf("/admin/reject/%d", id), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reject status = %d", rec.Code)
	}
	if body["status"] != "rejected" {
		t.Errorf("reject status field = %v", body["status"])
	}
}

func TestSubmitUnknownType(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{route: `{"names":["notices"]}`, answer: "답"})
	rec, _ := doJSON(t, srv.Routes(), http.MethodPost, "/admin/submit",
		`{"source_type":"blogpost","data":{"title":"x","content":"y"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestApproveUnknownID(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{route: `{"names":["notices"]}`, answer: "답"})
	rec, _ := doJSON(t, srv.Routes(), http.MethodPost, "/admin/approve/9999", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestApproveIndexFailure(t *testing.T) {
	srv, index := newTestServer(t, &scriptedLLM{route: `{"names":["notices"]}`, answer: "답"})
	h := srv.Routes()

	_, body := doJSON(t, h, http.MethodPost, "/admin/submit",
		`{"source_type":"announcement","data":{"title":"실패 공지","content":"본문"}}`)
	id := int64(body["id"].(float64))

	index.fail = true
	rec, body := doJSON(t, h, http.MethodPost, fmt.Sprintf("/admin/approve/%d", id), "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body["status"] != "error" {
		t.Errorf("status field = %v, want error", body["status"])
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Error("error response carries no message")
	}
}
