// Package router decides which corpora a question should be searched in,
// using the language model as a classifier with a bounded decision cache.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/llm"
)

// cacheSize bounds the number of remembered routing decisions.
const cacheSize = 1024

// fallbackRoute is used when the model fails or answers nothing usable.
var fallbackRoute = []corpus.Key{corpus.Notices}

// Router picks target corpora for a question.
type Router struct {
	llm    llm.Client
	logger *slog.Logger
	cache  *lru.Cache[string, []corpus.Key]
}

// New creates a router backed by the given chat client.
func New(client llm.Client, logger *slog.Logger) (*Router, error) {
	cache, err := lru.New[string, []corpus.Key](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create route cache: %w", err)
	}
	return &Router{llm: client, logger: logger, cache: cache}, nil
}

const routeSystemPrompt = `당신은 대학 정보 검색 시스템의 분류기입니다.
사용자의 질문을 읽고 어떤 데이터 소스를 검색해야 하는지 결정하세요.

사용 가능한 데이터 소스:
%s
반드시 다음 형식의 JSON 객체만 출력하세요: {"names": ["소스이름", ...]}
질문과 관련 있는 소스만 고르고, 1개 이상 선택하세요.`

func sourceList() string {
	var b strings.Builder
	for _, spec := range corpus.All() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Key, spec.Description)
	}
	return b.String()
}

type routeDecision struct {
	Names []string `json:"names"`
}

// Route returns the corpora to search for the question, in the model's
// preference order. Unknown names are dropped; a failed or empty decision
// falls back to notices.
func (r *Router) Route(ctx context.Context, question string) []corpus.Key {
	key := strings.TrimSpace(question)
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	routes := r.ask(ctx, question)
	if len(routes) == 0 {
		// Not cached: a transient model failure must not pin the degraded
		// route for this question until eviction.
		return fallbackRoute
	}
	r.cache.Add(key, routes)
	return routes
}

func (r *Router) ask(ctx context.Context, question string) []corpus.Key {
	content, err := r.llm.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(routeSystemPrompt, sourceList())},
		{Role: llm.RoleUser, Content: question},
	}, llm.Options{Temperature: 0, JSONMode: true})
	if err != nil {
		r.logger.Warn("routing failed, falling back to notices", "error", err)
		return nil
	}

	var decision routeDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		r.logger.Warn("unparseable routing decision", "content", content, "error", err)
		return nil
	}

	seen := make(map[corpus.Key]bool, len(decision.Names))
	var routes []corpus.Key
	for _, name := range decision.Names {
		key := corpus.Key(strings.TrimSpace(strings.ToLower(name)))
		if !corpus.Valid(key) || seen[key] {
			continue
		}
		seen[key] = true
		routes = append(routes, key)
	}
	return routes
}
