package dataset

import (
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/renux/dongrag/internal/preprocess"
)

// chunkTable is the on-disk layout of a corpus chunk artifact: one slice per
// column, all the same length.
type chunkTable struct {
	ChunkID     []string
	DocID       []string
	Text        []string
	Position    []int
	TokenLen    []int
	Title       []string
	Topics      []string
	PublishedAt []string
	UpdatedAt   []string
	URL         []string
	Source      []string
	Major       []string
}

func toTable(chunks []preprocess.Chunk) *chunkTable {
	t := &chunkTable{}
	for _, c := range chunks {
		t.ChunkID = append(t.ChunkID, c.ChunkID)
		t.DocID = append(t.DocID, c.DocID)
		t.Text = append(t.Text, c.Text)
		t.Position = append(t.Position, c.Position)
		t.TokenLen = append(t.TokenLen, c.TokenLen)
		t.Title = append(t.Title, c.Title)
		t.Topics = append(t.Topics, c.Topics)
		t.PublishedAt = append(t.PublishedAt, c.PublishedAt)
		t.UpdatedAt = append(t.UpdatedAt, c.UpdatedAt)
		t.URL = append(t.URL, c.URL)
		t.Source = append(t.Source, c.Source)
		t.Major = append(t.Major, c.Major)
	}
	return t
}

func (t *chunkTable) rows() []preprocess.Chunk {
	chunks := make([]preprocess.Chunk, len(t.ChunkID))
	for i := range t.ChunkID {
		chunks[i] = preprocess.Chunk{
			ChunkID:     t.ChunkID[i],
			DocID:       t.DocID[i],
			Text:        t.Text[i],
			Position:    t.Position[i],
			TokenLen:    t.TokenLen[i],
			Title:       t.Title[i],
			Topics:      t.Topics[i],
			PublishedAt: t.PublishedAt[i],
			UpdatedAt:   t.UpdatedAt[i],
			URL:         t.URL[i],
			Source:      t.Source[i],
			Major:       t.Major[i],
		}
	}
	return chunks
}

// SaveChunks persists the chunk table at path as gob, falling back to a CSV
// file next to it when gob encoding fails.
func SaveChunks(path string, chunks []preprocess.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chunks dir: %w", err)
	}
	if err := saveGob(path, toTable(chunks)); err == nil {
		// A stale CSV fallback would shadow future loads after a
		// successful gob write.
		os.Remove(csvPath(path))
		return nil
	}
	return saveCSV(csvPath(path), chunks)
}

// LoadChunks reads a chunk table written by SaveChunks, preferring the gob
// artifact over the CSV fallback.
func LoadChunks(path string) ([]preprocess.Chunk, error) {
	if _, err := os.Stat(path); err == nil {
		var t chunkTable
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open chunks file: %w", err)
		}
		defer f.Close()
		if err := gob.NewDecoder(f).Decode(&t); err != nil {
			return nil, fmt.Errorf("decode chunks %s: %w", path, err)
		}
		return t.rows(), nil
	}
	return loadCSV(csvPath(path))
}

// ChunkArtifactPath returns whichever chunk artifact exists at path, or the
// empty string when neither does.
func ChunkArtifactPath(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if _, err := os.Stat(csvPath(path)); err == nil {
		return csvPath(path)
	}
	return ""
}

func csvPath(gobPath string) string {
	return strings.TrimSuffix(gobPath, filepath.Ext(gobPath)) + ".csv"
}

func saveGob(path string, t *chunkTable) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(t); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

var csvHeader = []string{
	"chunk_id", "doc_id", "text", "position", "token_len",
	"title", "topics", "published_at", "updated_at", "url", "source", "major",
}

func saveCSV(path string, chunks []preprocess.Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv fallback: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range chunks {
		record := []string{
			c.ChunkID, c.DocID, c.Text, strconv.Itoa(c.Position), strconv.Itoa(c.TokenLen),
			c.Title, c.Topics, c.PublishedAt, c.UpdatedAt, c.URL, c.Source, c.Major,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func loadCSV(path string) ([]preprocess.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunks csv: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read chunks csv %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	chunks := make([]preprocess.Chunk, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < len(csvHeader) {
			continue
		}
		pos, _ := strconv.Atoi(rec[3])
		tl, _ := strconv.Atoi(rec[4])
		chunks = append(chunks, preprocess.Chunk{
			ChunkID: rec[0], DocID: rec[1], Text: rec[2], Position: pos, TokenLen: tl,
			Title: rec[5], Topics: rec[6], PublishedAt: rec[7], UpdatedAt: rec[8],
			URL: rec[9], Source: rec[10], Major: rec[11],
		})
	}
	return chunks, nil
}
