// Package preprocess provides text normalization, date canonicalization,
// deterministic id derivation and window-based chunking for ingested documents.
package preprocess

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	reScript     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reBreak      = regexp.MustCompile(`(?is)<br\s*/?>`)
	reParagraph  = regexp.MustCompile(`(?is)</p>`)
	reTag        = regexp.MustCompile(`(?s)<[^>]*>`)
	reSpaces     = regexp.MustCompile("[ \t ]+")
	reDigitHan   = regexp.MustCompile("([0-9])\n([가-힣])")
	reHanDigit   = regexp.MustCompile("([가-힣])\n([0-9])")
	reNLParen    = regexp.MustCompile("\n([()])")
	reParenNL    = regexp.MustCompile("([()])\n")
	reNLPunct    = regexp.MustCompile("\n([.,!?·])")
	reMultiNL    = regexp.MustCompile("\n{2,}")
	reParenSpace = regexp.MustCompile(`\s*([()])\s*`)
	rePunctSpace = regexp.MustCompile(`\s*([.,!?·:/])\s*`)
	reMultiSpace = regexp.MustCompile(`\s{2,}`)
	reQuoteSpace = regexp.MustCompile(`\s+'|'\s+`)
	reSentenceNL = regexp.MustCompile("([.!?]) +([가-힣A-Z0-9])")
)

// StripHTML removes script/style blocks, converts breaks and paragraph ends to
// newlines, and drops remaining tags.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = reScript.ReplaceAllString(s, " ")
	s = reStyle.ReplaceAllString(s, " ")
	s = reBreak.ReplaceAllString(s, "\n")
	s = reParagraph.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, " ")
	return s
}

// NormalizeWhitespace collapses space runs, joins digit/hangul line breaks,
// removes spurious newlines around punctuation and parentheses, condenses
// multiple newlines, and restores a newline after sentence-final punctuation.
func NormalizeWhitespace(s string) string {
	if s == "" {
		return ""
	}
	s = reSpaces.ReplaceAllString(s, " ")
	s = reDigitHan.ReplaceAllString(s, "$1$2")
	s = reHanDigit.ReplaceAllString(s, "$1 $2")
	s = reNLParen.ReplaceAllString(s, "$1")
	s = reParenNL.ReplaceAllString(s, "$1")
	s = reNLPunct.ReplaceAllString(s, "$1")
	// Keep paragraph breaks, turn lone newlines into spaces.
	s = reMultiNL.ReplaceAllString(s, "\x00")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\x00", "\n")
	s = reParenSpace.ReplaceAllString(s, "$1")
	s = rePunctSpace.ReplaceAllString(s, "$1 ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reQuoteSpace.ReplaceAllString(s, "'")
	s = reSentenceNL.ReplaceAllString(s, "$1\n$2")
	return strings.TrimSpace(s)
}

var dateLayouts = []string{"2006-01-02", "2006.01.02", "2006/01/02", "2006년 1월 2일"}

// StandardizeDate normalizes a date string into canonical YYYY-MM-DD form.
// Returns the empty string when the input matches none of the known layouts.
func StandardizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// MakeDocID derives a deterministic hex SHA1 id from the non-empty parts.
func MakeDocID(parts ...string) string {
	nonempty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonempty = append(nonempty, p)
		}
	}
	sum := sha1.Sum([]byte(strings.Join(nonempty, "|")))
	return hex.EncodeToString(sum[:])
}

// MakeChunkID derives a deterministic hex SHA1 id for the chunk at position i.
func MakeChunkID(docID string, i int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d", docID, i)))
	return hex.EncodeToString(sum[:])
}

// ChunkText splits text into character windows of at most size runes with the
// given overlap. The step is max(1, size-overlap); the loop stops once a
// window reaches the end of the text.
func ChunkText(text string, size, overlap int) []string {
	text = NormalizeWhitespace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	step := size - overlap
	if step < 1 {
		step = 1
	}
	var segments []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[start:end]))
		if start+size >= len(runes) {
			break
		}
	}
	return segments
}

// Document is a cleaned source record ready for chunking.
type Document struct {
	DocID       string
	Title       string
	Text        string
	Topics      string
	PublishedAt string
	UpdatedAt   string
	URL         string
	Attachments string
	Source      string
	Major       string
}

// Chunk is the unit of retrieval: a bounded text fragment with a
// deterministic id and the denormalized metadata projection used for
// filtering and display.
type Chunk struct {
	ChunkID     string
	DocID       string
	Text        string
	Position    int
	TokenLen    int
	Title       string
	Topics      string
	PublishedAt string
	UpdatedAt   string
	URL         string
	Source      string
	Major       string
}

// ToChunks transforms documents into chunk rows. A size of 0 produces a
// single chunk per document; otherwise the text is windowed via ChunkText.
// When includeTitle is set and the document has a title, each chunk body is
// prefixed with "[title]".
func ToChunks(docs []Document, size, overlap int, includeTitle bool) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		segments := []string{doc.Text}
		if size > 0 {
			if windowed := ChunkText(doc.Text, size, overlap); len(windowed) > 0 {
				segments = windowed
			}
		}
		for idx, segment := range segments {
			body := strings.TrimSpace(segment)
			if includeTitle && doc.Title != "" {
				body = strings.TrimSpace(fmt.Sprintf("[%s]\n\n%s", doc.Title, segment))
			}
			chunks = append(chunks, Chunk{
				ChunkID:     MakeChunkID(doc.DocID, idx),
				DocID:       doc.DocID,
				Text:        body,
				Position:    idx,
				TokenLen:    len(strings.Fields(body)),
				Title:       doc.Title,
				Topics:      doc.Topics,
				PublishedAt: doc.PublishedAt,
				UpdatedAt:   doc.UpdatedAt,
				URL:         doc.URL,
				Source:      doc.Source,
				Major:       doc.Major,
			})
		}
	}
	return chunks
}

// Institutional defaults stamped on every chunk's metadata.
const (
	MetaOrg  = "Dongguk Univ"
	MetaLang = "ko"
)

// TitledBody renders the canonical single-chunk body for a titled document:
// the bracketed title, a blank line, then the normalized content. Rebuilding
// a chunk from its source row through this function reproduces the text it
// was first indexed with.
func TitledBody(title, content string) string {
	return strings.TrimSpace(fmt.Sprintf("[%s]\n\n%s", title, NormalizeWhitespace(content)))
}

// Metadata returns the chunk's metadata projection as a flat string map,
// suitable for vector-store payloads and response sources.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		"org":          MetaOrg,
		"lang":         MetaLang,
		"doc_id":       c.DocID,
		"position":     fmt.Sprintf("%d", c.Position),
		"token_len":    fmt.Sprintf("%d", c.TokenLen),
		"title":        c.Title,
		"topics":       c.Topics,
		"published_at": c.PublishedAt,
		"updated_at":   c.UpdatedAt,
		"url":          c.URL,
		"source":       c.Source,
		"major":        c.Major,
	}
}

// ExtractTitle pulls a display title out of a chunk body: the bracketed
// prefix when present, else the first line capped at 120 runes.
func ExtractTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "[") {
		if closing := strings.Index(text, "]"); closing > 1 {
			return strings.TrimSpace(text[1:closing])
		}
	}
	first, _, _ := strings.Cut(text, "\n")
	runes := []rune(strings.TrimSpace(first))
	if len(runes) > 120 {
		runes = runes[:120]
	}
	return string(runes)
}
