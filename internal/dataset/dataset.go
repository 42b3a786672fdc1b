// Package dataset caches per-corpus retrieval state in memory: the chunk
// table, its id index and the fitted sparse model. Artifacts on disk are the
// source of truth; the cache invalidates on mtime changes and supports
// incremental appends without a full reload.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/preprocess"
	"github.com/renux/dongrag/internal/sparse"
)

// ErrDatasetMissing is returned when a corpus has no artifacts on disk and
// no rebuild path can produce them.
var ErrDatasetMissing = errors.New("dataset artifacts missing")

// Dataset is an immutable snapshot of one corpus's retrieval state. Matrix
// row i corresponds to Chunks[i].
type Dataset struct {
	Key    corpus.Key
	Chunks []preprocess.Chunk
	ByID   map[string]int
	Model  *sparse.Model
}

// Chunk returns the chunk with the given id.
func (d *Dataset) Chunk(chunkID string) (preprocess.Chunk, bool) {
	i, ok := d.ByID[chunkID]
	if !ok {
		return preprocess.Chunk{}, false
	}
	return d.Chunks[i], true
}

// RebuildFunc re-ingests one corpus, producing fresh artifacts on disk.
type RebuildFunc func(ctx context.Context, key corpus.Key) error

type slot struct {
	mu          sync.RWMutex
	ds          *Dataset
	chunkMtime  time.Time
	sparseMtime time.Time
}

// Manager owns one cache slot per corpus.
type Manager struct {
	chunksDir     string
	vectorizerDir string
	rebuild       RebuildFunc
	logger        *slog.Logger
	slots         map[corpus.Key]*slot
}

// NewManager creates a manager over the artifact directories. rebuild may be
// nil, in which case missing artifacts surface as ErrDatasetMissing.
func NewManager(chunksDir, vectorizerDir string, rebuild RebuildFunc, logger *slog.Logger) *Manager {
	m := &Manager{
		chunksDir:     chunksDir,
		vectorizerDir: vectorizerDir,
		rebuild:       rebuild,
		logger:        logger,
		slots:         make(map[corpus.Key]*slot),
	}
	for _, key := range corpus.Keys() {
		m.slots[key] = &slot{}
	}
	return m
}

func (m *Manager) paths(spec corpus.Spec) (chunkPath, sparsePath string) {
	return filepath.Join(m.chunksDir, spec.ChunkFile), filepath.Join(m.vectorizerDir, spec.SparseFile)
}

func mtime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Ensure returns the current snapshot for key, reloading from disk when the
// artifacts changed and rebuilding them when they are absent.
func (m *Manager) Ensure(ctx context.Context, key corpus.Key) (*Dataset, error) {
	spec, err := corpus.Get(key)
	if err != nil {
		return nil, err
	}
	sl := m.slots[key]
	chunkPath, sparsePath := m.paths(spec)

	sl.mu.RLock()
	if ds := sl.current(chunkPath, sparsePath); ds != nil {
		sl.mu.RUnlock()
		return ds, nil
	}
	sl.mu.RUnlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	// Another goroutine may have loaded while we waited for the lock.
	if ds := sl.current(chunkPath, sparsePath); ds != nil {
		return ds, nil
	}

	if ChunkArtifactPath(chunkPath) == "" || !exists(sparsePath) {
		if m.rebuild == nil {
			return nil, fmt.Errorf("corpus %s: %w", key, ErrDatasetMissing)
		}
		m.logger.Info("dataset artifacts missing, rebuilding", "corpus", key)
		if err := m.rebuild(ctx, key); err != nil {
			return nil, fmt.Errorf("rebuild corpus %s: %w", key, err)
		}
	}
	return sl.load(key, chunkPath, sparsePath)
}

// current returns the cached snapshot when both artifact mtimes still match.
// Caller holds at least the read lock.
func (sl *slot) current(chunkPath, sparsePath string) *Dataset {
	if sl.ds == nil {
		return nil
	}
	cm, ok := mtime(artifactOr(chunkPath))
	if !ok || !cm.Equal(sl.chunkMtime) {
		return nil
	}
	sm, ok := mtime(sparsePath)
	if !ok || !sm.Equal(sl.sparseMtime) {
		return nil
	}
	return sl.ds
}

func artifactOr(chunkPath string) string {
	if p := ChunkArtifactPath(chunkPath); p != "" {
		return p
	}
	return chunkPath
}

// load reads both artifacts and installs the snapshot. Caller holds the
// write lock.
func (sl *slot) load(key corpus.Key, chunkPath, sparsePath string) (*Dataset, error) {
	chunks, err := LoadChunks(chunkPath)
	if err != nil {
		return nil, fmt.Errorf("load chunks for %s: %w", key, err)
	}
	model, err := sparse.LoadModel(sparsePath)
	if err != nil {
		return nil, fmt.Errorf("load sparse model for %s: %w", key, err)
	}
	if model.Matrix.Len() != len(chunks) {
		return nil, fmt.Errorf("corpus %s: sparse matrix has %d rows for %d chunks", key, model.Matrix.Len(), len(chunks))
	}
	byID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		byID[c.ChunkID] = i
	}
	ds := &Dataset{Key: key, Chunks: chunks, ByID: byID, Model: model}
	sl.ds = ds
	if t, ok := mtime(artifactOr(chunkPath)); ok {
		sl.chunkMtime = t
	}
	if t, ok := mtime(sparsePath); ok {
		sl.sparseMtime = t
	}
	return ds, nil
}

// Append adds one chunk to the corpus snapshot and persists the updated
// artifacts before releasing the slot, so readers never observe a table and
// matrix of different lengths.
func (m *Manager) Append(ctx context.Context, key corpus.Key, chunk preprocess.Chunk) error {
	spec, err := corpus.Get(key)
	if err != nil {
		return err
	}
	sl := m.slots[key]
	chunkPath, sparsePath := m.paths(spec)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.current(chunkPath, sparsePath) == nil {
		if _, err := sl.load(key, chunkPath, sparsePath); err != nil {
			return err
		}
	}

	old := sl.ds
	// Re-appending an already indexed chunk is a no-op, so retries converge.
	if _, ok := old.ByID[chunk.ChunkID]; ok {
		return nil
	}
	chunks := make([]preprocess.Chunk, len(old.Chunks), len(old.Chunks)+1)
	copy(chunks, old.Chunks)
	chunks = append(chunks, chunk)
	byID := make(map[string]int, len(old.ByID)+1)
	for id, i := range old.ByID {
		byID[id] = i
	}
	byID[chunk.ChunkID] = len(chunks) - 1
	model := old.Model.Clone()
	model.AppendDoc(chunk.Text)

	if err := SaveChunks(chunkPath, chunks); err != nil {
		return fmt.Errorf("persist chunks for %s: %w", key, err)
	}
	if err := model.Save(sparsePath); err != nil {
		return fmt.Errorf("persist sparse model for %s: %w", key, err)
	}

	sl.ds = &Dataset{Key: key, Chunks: chunks, ByID: byID, Model: model}
	if t, ok := mtime(artifactOr(chunkPath)); ok {
		sl.chunkMtime = t
	}
	if t, ok := mtime(sparsePath); ok {
		sl.sparseMtime = t
	}
	return nil
}

// Invalidate drops the cached snapshot for key; the next Ensure reloads from
// disk.
func (m *Manager) Invalidate(key corpus.Key) {
	sl, ok := m.slots[key]
	if !ok {
		return
	}
	sl.mu.Lock()
	sl.ds = nil
	sl.mu.Unlock()
}

// Counts reports the cached chunk count per corpus. Corpora that are not
// loaded report zero without touching the disk.
func (m *Manager) Counts() map[corpus.Key]int {
	counts := make(map[corpus.Key]int, len(m.slots))
	for key, sl := range m.slots {
		sl.mu.RLock()
		if sl.ds != nil {
			counts[key] = len(sl.ds.Chunks)
		} else {
			counts[key] = 0
		}
		sl.mu.RUnlock()
	}
	return counts
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
