// Package sqlite implements repository.Store on a single database file using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/repository"
)

// Store is the sqlite-backed repository.
type Store struct {
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// New opens (creating if necessary) the database at path and applies the
// schema. WAL keeps readers unblocked during ingest writes; a single open
// connection sidesteps SQLITE_BUSY under the lone-writer access pattern.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS notices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	board TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	published_at TEXT NOT NULL DEFAULT '',
	pinned INTEGER NOT NULL DEFAULT 0,
	url TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	attachments TEXT NOT NULL DEFAULT '',
	origin TEXT NOT NULL DEFAULT 'auto'
);
CREATE TABLE IF NOT EXISTS rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	relative_dir TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS schedule (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	department TEXT NOT NULL DEFAULT '',
	start_date TEXT NOT NULL DEFAULT '',
	end_date TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS courses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	major TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS staff (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	department TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	position TEXT NOT NULL DEFAULT '',
	duties TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS custom_knowledge (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	corpus TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	notice_id INTEGER REFERENCES notices(id) ON DELETE CASCADE,
	schedule_id INTEGER REFERENCES schedule(id) ON DELETE CASCADE,
	rule_id INTEGER REFERENCES rules(id) ON DELETE CASCADE,
	course_id INTEGER REFERENCES courses(id) ON DELETE CASCADE,
	staff_id INTEGER REFERENCES staff(id) ON DELETE CASCADE,
	custom_knowledge_id INTEGER REFERENCES custom_knowledge(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunks_corpus ON chunks(corpus);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_items(status);
`

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ReplaceNotices(ctx context.Context, rows []repository.Notice) ([]int64, error) {
	var ids []int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Manual rows (curated Q&A, approved events) survive re-ingestion.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE corpus = ? AND notice_id IN (SELECT id FROM notices WHERE origin = 'auto')`,
			corpus.Notices); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM notices WHERE origin = 'auto'`); err != nil {
			return err
		}
		for _, n := range rows {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO notices (board, title, category, published_at, pinned, url, content, attachments, origin)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				n.Board, n.Title, n.Category, n.PublishedAt, boolInt(n.Pinned), n.URL, n.Content, n.Attachments, orDefault(n.Origin, repository.OriginAuto))
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace notices: %w", err)
	}
	return ids, nil
}

func (s *Store) ReplaceRules(ctx context.Context, rows []repository.Rule) ([]int64, error) {
	var ids []int64
	err := s.replaceCorpus(ctx, corpus.Rules, `DELETE FROM rules`, func(tx *sql.Tx) error {
		for _, r := range rows {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO rules (filename, relative_dir, text) VALUES (?, ?, ?)`,
				r.Filename, r.RelativeDir, r.Text)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace rules: %w", err)
	}
	return ids, nil
}

func (s *Store) ReplaceSchedule(ctx context.Context, rows []repository.ScheduleEntry) ([]int64, error) {
	var ids []int64
	err := s.replaceCorpus(ctx, corpus.Schedule, `DELETE FROM schedule`, func(tx *sql.Tx) error {
		for _, e := range rows {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO schedule (category, title, department, start_date, end_date) VALUES (?, ?, ?, ?, ?)`,
				e.Category, e.Title, e.Department, e.StartDate, e.EndDate)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace schedule: %w", err)
	}
	return ids, nil
}

func (s *Store) ReplaceCourses(ctx context.Context, rows []repository.Course) ([]int64, error) {
	var ids []int64
	err := s.replaceCorpus(ctx, corpus.Courses, `DELETE FROM courses`, func(tx *sql.Tx) error {
		for _, c := range rows {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO courses (name, description, major) VALUES (?, ?, ?)`,
				c.Name, c.Description, c.Major)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace courses: %w", err)
	}
	return ids, nil
}

func (s *Store) ReplaceStaff(ctx context.Context, rows []repository.StaffMember) ([]int64, error) {
	var ids []int64
	err := s.replaceCorpus(ctx, corpus.Staff, `DELETE FROM staff`, func(tx *sql.Tx) error {
		for _, m := range rows {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO staff (department, name, position, duties, phone, email) VALUES (?, ?, ?, ?, ?, ?)`,
				m.Department, m.Name, m.Position, m.Duties, m.Phone, m.Email)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace staff: %w", err)
	}
	return ids, nil
}

func (s *Store) replaceCorpus(ctx context.Context, key corpus.Key, deleteStmt string, insert func(*sql.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE corpus = ?`, key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteStmt); err != nil {
			return err
		}
		return insert(tx)
	})
}

func (s *Store) InsertChunks(ctx context.Context, records []repository.ChunkRecord) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			if err := insertChunk(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

func insertChunk(ctx context.Context, tx *sql.Tx, rec repository.ChunkRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, doc_id, corpus, position, notice_id, schedule_id, rule_id, course_id, staff_id, custom_knowledge_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ChunkID, rec.DocID, rec.Corpus, rec.Position,
		nullID(rec.NoticeID), nullID(rec.ScheduleID), nullID(rec.RuleID), nullID(rec.CourseID), nullID(rec.StaffID),
		nullID(rec.CustomKnowledgeID))
	return err
}

func (s *Store) ChunkIDs(ctx context.Context, key corpus.Key) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE corpus = ? ORDER BY rowid`, key)
	if err != nil {
		return nil, fmt.Errorf("list chunk ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ManualNoticeChunks(ctx context.Context) ([]repository.ManualChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.doc_id, c.position, COALESCE(c.custom_knowledge_id, 0),
		        n.id, n.board, n.title, n.category, n.published_at, n.url, n.content
		 FROM chunks c JOIN notices n ON c.notice_id = n.id
		 WHERE n.origin = 'manual' ORDER BY c.rowid`)
	if err != nil {
		return nil, fmt.Errorf("list manual notice chunks: %w", err)
	}
	defer rows.Close()
	var chunks []repository.ManualChunk
	for rows.Next() {
		var mc repository.ManualChunk
		if err := rows.Scan(&mc.ChunkID, &mc.DocID, &mc.Position, &mc.CustomKnowledgeID,
			&mc.Notice.ID, &mc.Notice.Board, &mc.Notice.Title, &mc.Notice.Category,
			&mc.Notice.PublishedAt, &mc.Notice.URL, &mc.Notice.Content); err != nil {
			return nil, err
		}
		mc.Notice.Origin = repository.OriginManual
		chunks = append(chunks, mc)
	}
	return chunks, rows.Err()
}

func (s *Store) ChunkExists(ctx context.Context, chunkID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE id = ?`, chunkID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chunk exists: %w", err)
	}
	return true, nil
}

func (s *Store) CreatePending(ctx context.Context, item repository.PendingItem) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_items (source_type, payload, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		item.SourceType, item.Payload, orDefault(item.Status, repository.StatusPending), now, now)
	if err != nil {
		return 0, fmt.Errorf("create pending item: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetPending(ctx context.Context, id int64) (repository.PendingItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_type, payload, status, created_at, updated_at FROM pending_items WHERE id = ?`, id)
	item, err := scanPending(row)
	if err == sql.ErrNoRows {
		return repository.PendingItem{}, repository.ErrNotFound
	}
	if err != nil {
		return repository.PendingItem{}, fmt.Errorf("get pending item %d: %w", id, err)
	}
	return item, nil
}

func (s *Store) ListPending(ctx context.Context, status string) ([]repository.PendingItem, error) {
	return s.listPending(ctx,
		`SELECT id, source_type, payload, status, created_at, updated_at FROM pending_items WHERE status = ? ORDER BY created_at DESC, id DESC`,
		status)
}

func (s *Store) ListAllPending(ctx context.Context) ([]repository.PendingItem, error) {
	return s.listPending(ctx,
		`SELECT id, source_type, payload, status, created_at, updated_at FROM pending_items ORDER BY created_at DESC, id DESC`)
}

func (s *Store) listPending(ctx context.Context, query string, args ...any) ([]repository.PendingItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	defer rows.Close()
	var items []repository.PendingItem
	for rows.Next() {
		item, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPending(sc scanner) (repository.PendingItem, error) {
	var (
		item               repository.PendingItem
		createdAt, updated string
	)
	if err := sc.Scan(&item.ID, &item.SourceType, &item.Payload, &item.Status, &createdAt, &updated); err != nil {
		return repository.PendingItem{}, err
	}
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return item, nil
}

func (s *Store) UpdatePendingStatus(ctx context.Context, id int64, status string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_items SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return fmt.Errorf("update pending item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// storeTx adapts *sql.Tx to repository.Tx.
type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) InsertNotice(ctx context.Context, n repository.Notice) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO notices (board, title, category, published_at, pinned, url, content, attachments, origin)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Board, n.Title, n.Category, n.PublishedAt, boolInt(n.Pinned), n.URL, n.Content, n.Attachments, orDefault(n.Origin, repository.OriginManual))
	if err != nil {
		return 0, fmt.Errorf("insert notice: %w", err)
	}
	return res.LastInsertId()
}

func (t *storeTx) InsertCustomKnowledge(ctx context.Context, k repository.CustomKnowledge) (int64, error) {
	created := k.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO custom_knowledge (question, answer, created_at) VALUES (?, ?, ?)`,
		k.Question, k.Answer, created.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert custom knowledge: %w", err)
	}
	return res.LastInsertId()
}

func (t *storeTx) InsertChunk(ctx context.Context, c repository.ChunkRecord) error {
	if err := insertChunk(ctx, t.tx, c); err != nil {
		return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(repository.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&storeTx{tx: tx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
