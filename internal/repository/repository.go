// Package repository defines the relational persistence interface for
// canonical source records, chunk bookkeeping and the moderation queue.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/renux/dongrag/internal/corpus"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Notice origin values.
const (
	OriginAuto   = "auto"
	OriginManual = "manual"
)

// Pending item statuses.
const (
	StatusPending           = "pending"
	StatusApproved          = "approved"
	StatusRejected          = "rejected"
	StatusApprovedUnindexed = "approved_but_unindexed"
	StatusApprovedManually  = "approved_manually"
)

// Notice is a campus announcement row. Curated Q&A and approved events are
// projected into this table with origin=manual.
type Notice struct {
	ID          int64
	Board       string
	Title       string
	Category    string
	PublishedAt string
	Pinned      bool
	URL         string
	Content     string
	Attachments string
	Origin      string
}

// Rule is one regulation document.
type Rule struct {
	ID          int64
	Filename    string
	RelativeDir string
	Text        string
}

// ScheduleEntry is one academic calendar item.
type ScheduleEntry struct {
	ID         int64
	Category   string
	Title      string
	Department string
	StartDate  string
	EndDate    string
}

// Course is one course description or major curriculum row.
type Course struct {
	ID          int64
	Name        string
	Description string
	Major       string
}

// StaffMember is one staff contact row.
type StaffMember struct {
	ID         int64
	Department string
	Name       string
	Position   string
	Duties     string
	Phone      string
	Email      string
}

// CustomKnowledge is a curated question/answer pair.
type CustomKnowledge struct {
	ID        int64
	Question  string
	Answer    string
	CreatedAt time.Time
}

// PendingItem is one entry in the moderation queue. Payload is the submitted
// JSON document, stored verbatim.
type PendingItem struct {
	ID         int64
	SourceType string
	Payload    string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChunkRecord ties a chunk id back to its source row. Exactly one of the
// per-corpus source ids is set; curated Q&A chunks additionally carry the
// custom_knowledge row they were projected from.
type ChunkRecord struct {
	ChunkID           string
	DocID             string
	Corpus            corpus.Key
	Position          int
	NoticeID          int64
	RuleID            int64
	ScheduleID        int64
	CourseID          int64
	StaffID           int64
	CustomKnowledgeID int64
}

// ManualChunk is a chunk of operator-approved content joined with the
// manual notice row it was projected into. Bulk re-ingestion uses these to
// keep approved content in the vector and sparse indices.
type ManualChunk struct {
	ChunkID           string
	DocID             string
	Position          int
	CustomKnowledgeID int64
	Notice            Notice
}

// Tx exposes the writes the moderation approve path performs inside one
// transaction.
type Tx interface {
	InsertNotice(ctx context.Context, n Notice) (int64, error)
	InsertCustomKnowledge(ctx context.Context, k CustomKnowledge) (int64, error)
	InsertChunk(ctx context.Context, c ChunkRecord) error
}

// Store is the relational persistence interface.
type Store interface {
	// Wholesale replacement used by ingestion. Each call deletes the
	// corpus's chunks and source rows, inserts the given rows and returns
	// their new ids aligned with the input slice. ReplaceNotices preserves
	// origin=manual rows and their chunks.
	ReplaceNotices(ctx context.Context, rows []Notice) ([]int64, error)
	ReplaceRules(ctx context.Context, rows []Rule) ([]int64, error)
	ReplaceSchedule(ctx context.Context, rows []ScheduleEntry) ([]int64, error)
	ReplaceCourses(ctx context.Context, rows []Course) ([]int64, error)
	ReplaceStaff(ctx context.Context, rows []StaffMember) ([]int64, error)

	InsertChunks(ctx context.Context, records []ChunkRecord) error
	ChunkIDs(ctx context.Context, key corpus.Key) ([]string, error)
	ChunkExists(ctx context.Context, chunkID string) (bool, error)
	// ManualNoticeChunks lists the chunks of origin=manual notices, the rows
	// a notices re-ingest preserves.
	ManualNoticeChunks(ctx context.Context) ([]ManualChunk, error)

	CreatePending(ctx context.Context, item PendingItem) (int64, error)
	GetPending(ctx context.Context, id int64) (PendingItem, error)
	ListPending(ctx context.Context, status string) ([]PendingItem, error)
	ListAllPending(ctx context.Context) ([]PendingItem, error)
	UpdatePendingStatus(ctx context.Context, id int64, status string) error

	// InTx runs fn inside a transaction; the transaction stays open until
	// fn returns, and commits only when fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error

	Close() error
}
