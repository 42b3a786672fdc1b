// Package answer turns retrieved chunks and conversation history into a
// grounded Korean answer via the language model.
package answer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/renux/dongrag/internal/history"
	"github.com/renux/dongrag/internal/llm"
	"github.com/renux/dongrag/internal/preprocess"
	"github.com/renux/dongrag/internal/search"
)

// noContextNotice is injected instead of documents when retrieval came back
// empty, so the model answers conversationally rather than inventing
// citations.
const noContextNotice = "관련 문서를 찾지 못했습니다. 문서를 인용하지 말고, 아는 범위에서 일반적인 안내만 제공하세요."

const systemPromptTemplate = `당신은 동국대학교 학생들을 돕는 캠퍼스 안내 도우미입니다.
오늘 날짜: %s

규칙:
1. 아래 제공된 문서 내용에 근거해서만 답변하세요.
2. 여러 항목을 나열할 때는 번호 목록을 사용하세요.
3. 출처가 있는 내용은 [제목](URL) 형식의 마크다운 링크로 인용하세요.
4. 굵은 글씨(**)는 사용하지 마세요.
5. 문서에 없는 내용은 모른다고 답하세요.

%s

참고 문서:
%s`

// Citation points a reader back at a source document.
type Citation struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Date   string `json:"date"`
	Source string `json:"source"`
}

// Generator produces answers from retrieval results.
type Generator struct {
	llm           llm.Client
	maxContextLen int
	maxHistory    int
}

// NewGenerator creates a generator. maxContextLen bounds the rendered
// document context in runes.
func NewGenerator(client llm.Client, maxContextLen, maxHistory int) *Generator {
	return &Generator{llm: client, maxContextLen: maxContextLen, maxHistory: maxHistory}
}

// Generate answers the question from the ranked results and the session's
// prior turns.
func (g *Generator) Generate(ctx context.Context, question string, results []search.Result, hist []history.Message, now time.Time) (string, error) {
	contextBlock := noContextNotice
	if len(results) > 0 {
		contextBlock = buildContext(results, g.maxContextLen)
	}

	if g.maxHistory > 0 && len(hist) > g.maxHistory {
		hist = hist[len(hist)-g.maxHistory:]
	}
	historyBlock := ""
	if formatted := history.FormatForPrompt(hist); formatted != "" {
		historyBlock = "이전 대화:\n" + formatted
	}

	system := fmt.Sprintf(systemPromptTemplate,
		now.In(preprocess.KST).Format("2006-01-02"), historyBlock, contextBlock)

	content, err := g.llm.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: question},
	}, llm.Options{Temperature: 0.2})
	if err != nil {
		return "", err
	}
	return Sanitize(content), nil
}

// buildContext renders the numbered document blocks, truncated to maxLen
// runes at a block boundary.
func buildContext(results []search.Result, maxLen int) string {
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "문서 %d [출처: %s]:\n", i+1, r.Chunk.Source)
		if title := displayTitle(r); title != "" {
			fmt.Fprintf(&b, "제목: %s\n", title)
		}
		if r.Chunk.PublishedAt != "" {
			fmt.Fprintf(&b, "게시일: %s\n", r.Chunk.PublishedAt)
		}
		if r.Chunk.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", r.Chunk.URL)
		}
		fmt.Fprintf(&b, "내용: %s", r.Chunk.Text)
		blocks = append(blocks, b.String())
	}
	joined := strings.Join(blocks, "\n\n---\n\n")
	runes := []rune(joined)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return joined
}

func displayTitle(r search.Result) string {
	if r.Chunk.Title != "" {
		return r.Chunk.Title
	}
	return preprocess.ExtractTitle(r.Chunk.Text)
}

var answerTagPattern = regexp.MustCompile(`<[^>]+>`)

// Sanitize strips bold markers and stray HTML tags the model sometimes
// emits despite the prompt rules.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = answerTagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Citations derives the unique source citations from ranked results, in rank
// order.
func Citations(results []search.Result) []Citation {
	seen := make(map[string]bool, len(results))
	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		key := displayTitle(r) + "|" + r.Chunk.URL
		if seen[key] {
			continue
		}
		seen[key] = true
		citations = append(citations, Citation{
			Title:  displayTitle(r),
			URL:    r.Chunk.URL,
			Date:   r.Chunk.PublishedAt,
			Source: r.Chunk.Source,
		})
	}
	return citations
}

// FormatCitations renders citations as a plain bullet list.
func FormatCitations(citations []Citation) string {
	var b strings.Builder
	for _, c := range citations {
		b.WriteString("- ")
		b.WriteString(c.Title)
		if c.Date != "" {
			fmt.Fprintf(&b, " (%s)", c.Date)
		}
		if c.URL != "" {
			b.WriteString(" ")
			b.WriteString(c.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
