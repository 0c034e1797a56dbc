// Package session is the in-memory store of conversation contexts.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/weave/internal/domain"
)

// Store holds sessions by ID. Sessions are created lazily on first use
// and never expire; persistence belongs to whoever embeds the process.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*domain.Session),
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetOrCreate returns the session, creating an empty one when absent.
func (s *Store) GetOrCreate(id uuid.UUID) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return cloneSession(sess)
	}

	now := s.now()
	sess := &domain.Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = sess
	return cloneSession(sess)
}

// Get returns the session or domain.ErrNotFound.
func (s *Store) Get(id uuid.UUID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session.Store.Get(%s): %w", id, domain.ErrNotFound)
	}
	return cloneSession(sess), nil
}

// AppendTurn records one completed turn on the session's history.
func (s *Store) AppendTurn(id uuid.UUID, turn domain.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session.Store.AppendTurn(%s): %w", id, domain.ErrNotFound)
	}
	sess.History = append(sess.History, turn)
	sess.UpdatedAt = s.now()
	return nil
}

// SetResumeID stores the backend conversation handle for later resumption.
func (s *Store) SetResumeID(id uuid.UUID, resumeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session.Store.SetResumeID(%s): %w", id, domain.ErrNotFound)
	}
	sess.ResumeID = resumeID
	sess.UpdatedAt = s.now()
	return nil
}

// List returns all sessions, most recently updated first.
func (s *Store) List() []*domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func cloneSession(sess *domain.Session) *domain.Session {
	dup := *sess
	dup.History = make([]domain.TurnRecord, len(sess.History))
	copy(dup.History, sess.History)
	return &dup
}
