// Package service orchestrates a question end to end: routing, parallel
// per-corpus retrieval, re-ranking, answer generation and history upkeep.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renux/dongrag/internal/answer"
	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/dataset"
	"github.com/renux/dongrag/internal/history"
	"github.com/renux/dongrag/internal/llm"
	"github.com/renux/dongrag/internal/router"
	"github.com/renux/dongrag/internal/search"
	"github.com/renux/dongrag/internal/vectorstore"
)

// AskRequest is one question with optional session and major scoping.
type AskRequest struct {
	Question  string
	SessionID string
	Major     string
}

// Source describes one chunk the answer drew on.
type Source struct {
	ChunkID     string  `json:"chunk_id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	PublishedAt string  `json:"published_at"`
	Corpus      string  `json:"corpus"`
	Score       float64 `json:"score"`
}

// AskResponse is the answer with its provenance.
type AskResponse struct {
	Answer    string            `json:"answer"`
	Citations []answer.Citation `json:"citations"`
	Route     []string          `json:"route"`
	Sources   []Source          `json:"sources"`
}

// AskService answers campus questions.
type AskService struct {
	router    *router.Router
	searcher  *search.Searcher
	generator *answer.Generator
	history   history.Store
	datasets  *dataset.Manager
	logger    *slog.Logger

	topK          int
	recencyWeight float64
	now           func() time.Time
}

// NewAskService wires the ask pipeline.
func NewAskService(r *router.Router, s *search.Searcher, g *answer.Generator, h history.Store, d *dataset.Manager, logger *slog.Logger, topK int, recencyWeight float64) *AskService {
	return &AskService{
		router:        r,
		searcher:      s,
		generator:     g,
		history:       h,
		datasets:      d,
		logger:        logger,
		topK:          topK,
		recencyWeight: recencyWeight,
		now:           time.Now,
	}
}

// Ask runs the full pipeline for one question.
func (s *AskService) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	routes := s.router.Route(ctx, req.Question)
	s.logger.Info("question routed", "routes", routes, "session", req.SessionID)

	results, err := s.retrieve(ctx, routes, req)
	if err != nil {
		return nil, err
	}
	ranked := search.Rerank(results, req.Question, s.now(), s.recencyWeight, s.topK)

	var hist []history.Message
	if req.SessionID != "" {
		hist, err = s.history.Get(ctx, req.SessionID, 0)
		if err != nil {
			// Degrade to a single-turn answer rather than failing the ask.
			s.logger.Warn("history read failed", "session", req.SessionID, "error", err)
			hist = nil
		}
	}

	text, err := s.generator.Generate(ctx, req.Question, ranked, hist, s.now())
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		// User turn before assistant turn; one request appends both, so
		// per-session order holds.
		if err := s.history.Append(ctx, req.SessionID,
			history.Message{Role: llm.RoleUser, Content: req.Question},
			history.Message{Role: llm.RoleAssistant, Content: text},
		); err != nil {
			s.logger.Warn("history append failed", "session", req.SessionID, "error", err)
		}
	}

	routeNames := make([]string, len(routes))
	for i, r := range routes {
		routeNames[i] = string(r)
	}
	return &AskResponse{
		Answer:    text,
		Citations: answer.Citations(ranked),
		Route:     routeNames,
		Sources:   sourcesOf(ranked),
	}, nil
}

// retrieve fans retrieval out across the routed corpora, oversampling each
// so the re-ranker has candidates to trade off.
func (s *AskService) retrieve(ctx context.Context, routes []corpus.Key, req AskRequest) ([]search.Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	perCorpus := make([][]search.Result, len(routes))
	for i, key := range routes {
		g.Go(func() error {
			var filter *vectorstore.Filter
			if req.Major != "" {
				if spec, err := corpus.Get(key); err == nil && spec.HasMajorField {
					filter = &vectorstore.Filter{Key: "major", Value: req.Major}
				}
			}
			results, err := s.searcher.Search(gctx, key, req.Question, 3*s.topK, filter)
			if err != nil {
				return err
			}
			perCorpus[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var merged []search.Result
	for _, results := range perCorpus {
		merged = append(merged, results...)
	}
	return merged, nil
}

func sourcesOf(ranked []search.Result) []Source {
	sources := make([]Source, len(ranked))
	for i, r := range ranked {
		sources[i] = Source{
			ChunkID:     r.Chunk.ChunkID,
			Title:       r.Chunk.Title,
			URL:         r.Chunk.URL,
			PublishedAt: r.Chunk.PublishedAt,
			Corpus:      string(r.Corpus),
			Score:       r.Score,
		}
	}
	return sources
}

// Health reports the cached chunk count per corpus.
func (s *AskService) Health() map[string]int {
	counts := s.datasets.Counts()
	out := make(map[string]int, len(counts))
	for key, n := range counts {
		out[string(key)] = n
	}
	return out
}
