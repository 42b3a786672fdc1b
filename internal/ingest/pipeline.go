// Package ingest rebuilds a corpus's three indices from its CSV sources: the
// relational tables, the vector collection and the on-disk retrieval
// artifacts. A run is wholesale and rerunnable; afterwards all three agree.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/renux/dongrag/internal/config"
	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/dataset"
	"github.com/renux/dongrag/internal/embedder"
	"github.com/renux/dongrag/internal/preprocess"
	"github.com/renux/dongrag/internal/repository"
	"github.com/renux/dongrag/internal/sparse"
	"github.com/renux/dongrag/internal/vectorstore"
)

// Pipeline ingests corpora end to end.
type Pipeline struct {
	cfg      *config.Config
	store    repository.Store
	vectors  vectorstore.Index
	embedder embedder.Embedder
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(cfg *config.Config, store repository.Store, vectors vectorstore.Index, emb embedder.Embedder, logger *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, store: store, vectors: vectors, embedder: emb, logger: logger}
}

// Rebuild satisfies dataset.RebuildFunc.
func (p *Pipeline) Rebuild(ctx context.Context, key corpus.Key) error {
	return p.IngestCorpus(ctx, key)
}

// IngestCorpus runs the full pipeline for one corpus.
func (p *Pipeline) IngestCorpus(ctx context.Context, key corpus.Key) error {
	spec, err := corpus.Get(key)
	if err != nil {
		return err
	}
	rows, err := p.readSources(spec)
	if err != nil {
		return err
	}

	docs, sourceIDs, err := p.replaceSources(ctx, spec, rows)
	if err != nil {
		return err
	}
	p.logger.Info("sources replaced", "corpus", key, "documents", len(docs))

	size, overlap := spec.Window(p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	chunks := preprocess.ToChunks(docs, size, overlap, spec.IncludeTitle)
	if err := p.insertChunkRecords(ctx, spec, chunks, sourceIDs); err != nil {
		return err
	}

	// Manual notices survive the relational replace; their chunks must also
	// survive the vector diff and the artifact rewrite, or approved content
	// silently drops out of retrieval on the next bulk ingest.
	if spec.Key == corpus.Notices {
		manual, err := p.manualChunks(ctx)
		if err != nil {
			return err
		}
		if len(manual) > 0 {
			p.logger.Info("keeping manual chunks", "corpus", spec.Key, "count", len(manual))
			chunks = append(chunks, manual...)
		}
	}

	if err := p.reindexVectors(ctx, spec, chunks); err != nil {
		return err
	}

	if err := p.persistArtifacts(spec, chunks); err != nil {
		return err
	}
	p.logger.Info("corpus ingested", "corpus", key, "chunks", len(chunks))
	return nil
}

// IngestAll ingests every corpus, continuing past per-corpus failures and
// returning them joined.
func (p *Pipeline) IngestAll(ctx context.Context) error {
	var errs []error
	for _, key := range corpus.Keys() {
		if err := p.IngestCorpus(ctx, key); err != nil {
			p.logger.Error("corpus ingestion failed", "corpus", key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// readSources loads and concatenates the corpus's CSV files as header-keyed
// rows.
func (p *Pipeline) readSources(spec corpus.Spec) ([]map[string]string, error) {
	var rows []map[string]string
	found := false
	for _, name := range spec.SourceFiles {
		path := filepath.Join(p.cfg.DataDir, name)
		fileRows, err := readCSV(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", name, err)
		}
		found = true
		rows = append(rows, fileRows...)
	}
	if !found {
		return nil, fmt.Errorf("corpus %s has no source files in %s: %w", spec.Key, p.cfg.DataDir, dataset.ErrDatasetMissing)
	}
	return rows, nil
}

func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows []map[string]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		rows = append(rows, row)
	}
}

// replaceSources canonicalizes rows and replaces the corpus's relational
// slice, returning documents for chunking and the source row id per document.
func (p *Pipeline) replaceSources(ctx context.Context, spec corpus.Spec, rows []map[string]string) ([]preprocess.Document, map[string]int64, error) {
	var (
		docs []preprocess.Document
		ids  []int64
		err  error
	)
	switch spec.Key {
	case corpus.Notices:
		var notices []repository.Notice
		notices, docs = buildNotices(rows)
		ids, err = p.store.ReplaceNotices(ctx, notices)
	case corpus.Rules:
		var rules []repository.Rule
		rules, docs = buildRules(rows)
		ids, err = p.store.ReplaceRules(ctx, rules)
	case corpus.Schedule:
		var entries []repository.ScheduleEntry
		entries, docs = buildSchedule(rows)
		ids, err = p.store.ReplaceSchedule(ctx, entries)
	case corpus.Courses:
		var courses []repository.Course
		courses, docs = buildCourses(rows)
		ids, err = p.store.ReplaceCourses(ctx, courses)
	case corpus.Staff:
		var members []repository.StaffMember
		members, docs = buildStaff(rows)
		ids, err = p.store.ReplaceStaff(ctx, members)
	default:
		return nil, nil, fmt.Errorf("no builder for corpus %s", spec.Key)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(ids) != len(docs) {
		return nil, nil, fmt.Errorf("corpus %s: %d source ids for %d documents", spec.Key, len(ids), len(docs))
	}
	sourceIDs := make(map[string]int64, len(docs))
	for i, d := range docs {
		sourceIDs[d.DocID] = ids[i]
	}
	return docs, sourceIDs, nil
}

// manualChunks rebuilds the chunk rows of preserved operator-approved
// notices from their relational source, reproducing the text they were
// originally indexed with.
func (p *Pipeline) manualChunks(ctx context.Context) ([]preprocess.Chunk, error) {
	rows, err := p.store.ManualNoticeChunks(ctx)
	if err != nil {
		return nil, err
	}
	chunks := make([]preprocess.Chunk, 0, len(rows))
	for _, mc := range rows {
		text := preprocess.TitledBody(mc.Notice.Title, mc.Notice.Content)
		chunks = append(chunks, preprocess.Chunk{
			ChunkID:     mc.ChunkID,
			DocID:       mc.DocID,
			Text:        text,
			Position:    mc.Position,
			TokenLen:    len(strings.Fields(text)),
			Title:       mc.Notice.Title,
			Topics:      mc.Notice.Category,
			PublishedAt: mc.Notice.PublishedAt,
			URL:         mc.Notice.URL,
			Source:      string(corpus.Notices),
		})
	}
	return chunks, nil
}

func (p *Pipeline) insertChunkRecords(ctx context.Context, spec corpus.Spec, chunks []preprocess.Chunk, sourceIDs map[string]int64) error {
	records := make([]repository.ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		rec := repository.ChunkRecord{
			ChunkID:  c.ChunkID,
			DocID:    c.DocID,
			Corpus:   spec.Key,
			Position: c.Position,
		}
		id := sourceIDs[c.DocID]
		switch spec.Key {
		case corpus.Notices:
			rec.NoticeID = id
		case corpus.Rules:
			rec.RuleID = id
		case corpus.Schedule:
			rec.ScheduleID = id
		case corpus.Courses:
			rec.CourseID = id
		case corpus.Staff:
			rec.StaffID = id
		}
		records = append(records, rec)
	}
	return p.store.InsertChunks(ctx, records)
}

// reindexVectors embeds all chunks and reconciles the collection: points for
// chunk ids that no longer exist are deleted, current ones are upserted.
func (p *Pipeline) reindexVectors(ctx context.Context, spec corpus.Spec, chunks []preprocess.Chunk) error {
	if err := p.vectors.EnsureCollection(ctx, spec.Collection, p.cfg.EmbedDimension); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed corpus %s: %w", spec.Key, err)
	}

	existing, err := p.vectors.AllIDs(ctx, spec.Collection)
	if err != nil {
		return err
	}
	current := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		current[c.ChunkID] = true
	}
	var stale []string
	for _, id := range existing {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		p.logger.Info("deleting stale vectors", "corpus", spec.Key, "count", len(stale))
		if err := p.vectors.Delete(ctx, spec.Collection, stale); err != nil {
			return err
		}
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ChunkID:   c.ChunkID,
			Text:      c.Text,
			Embedding: embeddings[i],
			Metadata:  c.Metadata(),
		}
	}
	return p.vectors.Upsert(ctx, spec.Collection, records)
}

func (p *Pipeline) persistArtifacts(spec corpus.Spec, chunks []preprocess.Chunk) error {
	chunkPath := filepath.Join(p.cfg.ChunksDir(), spec.ChunkFile)
	if err := dataset.SaveChunks(chunkPath, chunks); err != nil {
		return fmt.Errorf("persist chunks for %s: %w", spec.Key, err)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	model := sparse.FitModel(texts, sparse.MaxFeatures)
	sparsePath := filepath.Join(p.cfg.VectorizerDir(), spec.SparseFile)
	if err := model.Save(sparsePath); err != nil {
		return fmt.Errorf("persist sparse model for %s: %w", spec.Key, err)
	}
	return nil
}
