// Package admin implements the moderation queue: operator-submitted
// announcements, events and curated Q&A are held for review and, on
// approval, projected into the notices corpus across all three indices.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/dataset"
	"github.com/renux/dongrag/internal/embedder"
	"github.com/renux/dongrag/internal/preprocess"
	"github.com/renux/dongrag/internal/repository"
	"github.com/renux/dongrag/internal/vectorstore"
)

// ErrIndexInconsistent signals that an approval could not bring all indices
// to the same state; the item is marked approved_but_unindexed and a later
// approve retry converges.
var ErrIndexInconsistent = errors.New("indices are inconsistent after approval")

// ErrBadRequest marks an invalid submission.
var ErrBadRequest = errors.New("invalid submission")

// Submission source types.
const (
	TypeAnnouncement    = "announcement"
	TypeEvent           = "event"
	TypeCustomKnowledge = "custom_knowledge"
)

// Moderator runs the moderation queue.
type Moderator struct {
	store    repository.Store
	vectors  vectorstore.Index
	embedder embedder.Embedder
	datasets *dataset.Manager
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a moderator.
func New(store repository.Store, vectors vectorstore.Index, emb embedder.Embedder, datasets *dataset.Manager, logger *slog.Logger) *Moderator {
	return &Moderator{
		store:    store,
		vectors:  vectors,
		embedder: emb,
		datasets: datasets,
		logger:   logger,
		now:      time.Now,
	}
}

type submissionPayload struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Category   string `json:"category"`
	Department string `json:"department"`
	Date       string `json:"date"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	URL        string `json:"url"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
}

// Submit queues a new item for review and returns its id.
func (m *Moderator) Submit(ctx context.Context, sourceType string, payload json.RawMessage) (int64, error) {
	switch sourceType {
	case TypeAnnouncement, TypeEvent, TypeCustomKnowledge:
	default:
		return 0, fmt.Errorf("%w: unknown source type %q", ErrBadRequest, sourceType)
	}
	var p submissionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, fmt.Errorf("%w: payload is not a JSON object", ErrBadRequest)
	}
	switch sourceType {
	case TypeCustomKnowledge:
		if p.Question == "" || p.Answer == "" {
			return 0, fmt.Errorf("%w: custom_knowledge needs question and answer", ErrBadRequest)
		}
	default:
		if p.Title == "" || p.Content == "" {
			return 0, fmt.Errorf("%w: %s needs title and content", ErrBadRequest, sourceType)
		}
	}
	return m.store.CreatePending(ctx, repository.PendingItem{
		SourceType: sourceType,
		Payload:    string(payload),
	})
}

// Pending lists items awaiting review, newest first.
func (m *Moderator) Pending(ctx context.Context) ([]repository.PendingItem, error) {
	return m.store.ListPending(ctx, repository.StatusPending)
}

// Items lists all queue items regardless of status, newest first.
func (m *Moderator) Items(ctx context.Context) ([]repository.PendingItem, error) {
	return m.store.ListAllPending(ctx)
}

// Reject marks the item rejected without touching any index.
func (m *Moderator) Reject(ctx context.Context, id int64) error {
	item, err := m.store.GetPending(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != repository.StatusPending {
		return fmt.Errorf("%w: item %d is already %s", ErrBadRequest, id, item.Status)
	}
	return m.store.UpdatePendingStatus(ctx, id, repository.StatusRejected)
}

// projection is an approved item rendered as a notices-corpus document.
type projection struct {
	notice repository.Notice
	custom *repository.CustomKnowledge
	chunk  preprocess.Chunk
}

func (m *Moderator) project(item repository.PendingItem) (projection, error) {
	var p submissionPayload
	if err := json.Unmarshal([]byte(item.Payload), &p); err != nil {
		return projection{}, fmt.Errorf("%w: stored payload unreadable", ErrBadRequest)
	}

	title, content, category := p.Title, p.Content, p.Category
	var custom *repository.CustomKnowledge
	switch item.SourceType {
	case TypeEvent:
		category = "행사"
	case TypeCustomKnowledge:
		title, content, category = p.Question, p.Answer, "FAQ"
		custom = &repository.CustomKnowledge{Question: p.Question, Answer: p.Answer}
	}

	date := preprocess.StandardizeDate(p.Date)
	if date == "" {
		date = preprocess.StandardizeDate(p.StartDate)
	}
	if date == "" {
		date = m.now().In(preprocess.KST).Format("2006-01-02")
	}

	// The submitting department is the notice board; the source type only
	// stands in when the payload names none.
	board := p.Department
	if board == "" {
		board = item.SourceType
	}
	docID := preprocess.MakeDocID(title, board, date)
	text := preprocess.TitledBody(title, content)

	return projection{
		notice: repository.Notice{
			Board:       board,
			Title:       title,
			Category:    category,
			PublishedAt: date,
			URL:         p.URL,
			Content:     content,
			Origin:      repository.OriginManual,
		},
		custom: custom,
		chunk: preprocess.Chunk{
			ChunkID:     docID,
			DocID:       docID,
			Text:        text,
			Title:       title,
			Topics:      category,
			PublishedAt: date,
			URL:         p.URL,
			Source:      "notices",
		},
	}, nil
}

// Approve projects the item into the notices corpus: relational rows, vector
// point and the cached dataset, keeping all three in step. The relational
// transaction stays open across the remote index write and commits last, so
// an index failure leaves no relational residue.
func (m *Moderator) Approve(ctx context.Context, id int64) (string, error) {
	item, err := m.store.GetPending(ctx, id)
	if err != nil {
		return "", err
	}
	switch item.Status {
	case repository.StatusPending, repository.StatusApprovedUnindexed:
	default:
		return "", fmt.Errorf("%w: item %d is already %s", ErrBadRequest, id, item.Status)
	}

	proj, err := m.project(item)
	if err != nil {
		return "", err
	}
	chunk := proj.chunk

	exists, err := m.store.ChunkExists(ctx, chunk.ChunkID)
	if err != nil {
		return "", err
	}

	// A prior approval that failed only on the cache append left its
	// relational and vector state behind; redo just the index side.
	if exists && item.Status == repository.StatusApprovedUnindexed {
		if err := m.index(ctx, chunk); err != nil {
			return "", m.markUnindexed(ctx, id, err)
		}
		if err := m.store.UpdatePendingStatus(ctx, id, repository.StatusApproved); err != nil {
			return "", err
		}
		return chunk.ChunkID, nil
	}

	if exists {
		// Same title, board and date as an existing document; disambiguate.
		suffix := uuid.NewString()[:8]
		chunk.ChunkID = chunk.ChunkID + "_" + suffix
		chunk.DocID = chunk.ChunkID
	}

	err = m.store.InTx(ctx, func(tx repository.Tx) error {
		noticeID, err := tx.InsertNotice(ctx, proj.notice)
		if err != nil {
			return err
		}
		var customID int64
		if proj.custom != nil {
			customID, err = tx.InsertCustomKnowledge(ctx, *proj.custom)
			if err != nil {
				return err
			}
		}
		if err := tx.InsertChunk(ctx, repository.ChunkRecord{
			ChunkID:           chunk.ChunkID,
			DocID:             chunk.DocID,
			Corpus:            corpus.Notices,
			NoticeID:          noticeID,
			CustomKnowledgeID: customID,
		}); err != nil {
			return err
		}
		// Remote index write under the open transaction; a failure here
		// rolls the relational rows back.
		return m.upsertVector(ctx, chunk)
	})
	if err != nil {
		return "", m.markUnindexed(ctx, id, err)
	}

	if err := m.datasets.Append(ctx, corpus.Notices, chunk); err != nil {
		return "", m.markUnindexed(ctx, id, err)
	}

	if err := m.store.UpdatePendingStatus(ctx, id, repository.StatusApproved); err != nil {
		return "", err
	}
	m.logger.Info("item approved", "id", id, "chunk_id", chunk.ChunkID, "type", item.SourceType)
	return chunk.ChunkID, nil
}

func (m *Moderator) upsertVector(ctx context.Context, chunk preprocess.Chunk) error {
	embedding, err := m.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return err
	}
	spec, err := corpus.Get(corpus.Notices)
	if err != nil {
		return err
	}
	if err := m.vectors.EnsureCollection(ctx, spec.Collection, len(embedding)); err != nil {
		return err
	}
	return m.vectors.Upsert(ctx, spec.Collection, []vectorstore.Record{{
		ChunkID:   chunk.ChunkID,
		Text:      chunk.Text,
		Embedding: embedding,
		Metadata:  chunk.Metadata(),
	}})
}

// index redoes the non-relational side of an approval.
func (m *Moderator) index(ctx context.Context, chunk preprocess.Chunk) error {
	if err := m.upsertVector(ctx, chunk); err != nil {
		return err
	}
	return m.datasets.Append(ctx, corpus.Notices, chunk)
}

func (m *Moderator) markUnindexed(ctx context.Context, id int64, cause error) error {
	if err := m.store.UpdatePendingStatus(ctx, id, repository.StatusApprovedUnindexed); err != nil {
		m.logger.Error("failed to mark item approved_but_unindexed", "id", id, "error", err)
	}
	return fmt.Errorf("%w: %w", ErrIndexInconsistent, cause)
}
