package session

import (
	"context"
	"sync"
	"time"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

// Store persists session state. Implementations must make Append atomic per
// call; ordering between calls is the Manager's job.
type Store interface {
	// Load returns models.ErrNotFound for an unknown id.
	Load(ctx context.Context, id string) (models.SessionState, error)
	// Create is a no-op when the session already exists.
	Create(ctx context.Context, id string, at time.Time) error
	Append(ctx context.Context, id string, turn models.Turn) error
	// Reset drops every turn but keeps the session.
	Reset(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.SessionState)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (models.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[id]
	if !ok {
		return models.SessionState{}, models.ErrNotFound
	}
	out := *st
	out.Turns = append([]models.Turn(nil), st.Turns...)
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createLocked(id, at)
	return nil
}

func (s *MemoryStore) createLocked(id string, at time.Time) *models.SessionState {
	st, ok := s.sessions[id]
	if !ok {
		st = &models.SessionState{SessionID: id, CreatedAt: at}
		s.sessions[id] = st
	}
	return st
}

func (s *MemoryStore) Append(_ context.Context, id string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.createLocked(id, turn.At)
	st.Turns = append(st.Turns, turn)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.createLocked(id, time.Now().UTC())
	st.Turns = nil
	return nil
}
