package history

import (
	"context"
	"sync"
	"time"
)

type session struct {
	messages []Message
	lastSeen time.Time
}

// MemoryStore is the in-process fallback used when no Redis URL is
// configured. Idle sessions are evicted by a background sweep.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	maxHistory int
	ttl        time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory history store bounded to maxHistory
// turns per session.
func NewMemoryStore(maxHistory int) *MemoryStore {
	s := &MemoryStore{
		sessions:   make(map[string]*session),
		maxHistory: maxHistory,
		ttl:        DefaultTTL,
		done:       make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) evictExpired() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > s.maxHistory {
		limit = s.maxHistory
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	msgs := sess.messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{}
		s.sessions[sessionID] = sess
	}
	sess.messages = append(sess.messages, messages...)
	if len(sess.messages) > s.maxHistory {
		sess.messages = sess.messages[len(sess.messages)-s.maxHistory:]
	}
	sess.lastSeen = time.Now()
	return nil
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
