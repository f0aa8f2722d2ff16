// Package session owns per-conversation turn history.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

var ErrMissingID = errors.New("session id is required")

const (
	summaryTopics   = 5
	summaryTopicLen = 50
)

// gate admits one holder per session at a time, waking waiters in arrival
// order.
type gate struct {
	busy    bool
	waiters []chan struct{}
}

type Manager struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	gates map[string]*gate
}

func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		gates: make(map[string]*gate),
	}
}

// Begin blocks until the caller holds the session, queueing behind earlier
// callers for the same id. The returned release must be called exactly once;
// extra calls are ignored. Different ids never wait on each other.
func (m *Manager) Begin(ctx context.Context, id string) (release func(), err error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}

	m.mu.Lock()
	g, ok := m.gates[id]
	if !ok {
		g = &gate{}
		m.gates[id] = g
	}
	if !g.busy {
		g.busy = true
		m.mu.Unlock()
		return m.releaser(id), nil
	}
	w := make(chan struct{})
	g.waiters = append(g.waiters, w)
	m.mu.Unlock()

	select {
	case <-w:
		return m.releaser(id), nil
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range g.waiters {
			if c == w {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				return nil, ctx.Err()
			}
		}
		// handed over just as we gave up; pass it on
		m.handOffLocked(id)
		return nil, ctx.Err()
	}
}

func (m *Manager) releaser(id string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.handOffLocked(id)
		})
	}
}

func (m *Manager) handOffLocked(id string) {
	g := m.gates[id]
	if g == nil {
		return
	}
	if len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(next)
		return
	}
	delete(m.gates, id)
}

func (m *Manager) GetOrCreate(ctx context.Context, id string) (models.SessionState, error) {
	if strings.TrimSpace(id) == "" {
		return models.SessionState{}, ErrMissingID
	}
	st, err := m.store.Load(ctx, id)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.SessionState{}, err
	}
	if err := m.store.Create(ctx, id, m.now()); err != nil {
		return models.SessionState{}, err
	}
	return m.store.Load(ctx, id)
}

func (m *Manager) AppendTurn(ctx context.Context, id, query, answer string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	if err := m.store.Append(ctx, id, models.Turn{Query: query, Answer: answer, At: m.now()}); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Reset clears the history; the session itself survives.
func (m *Manager) Reset(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	if err := m.store.Reset(ctx, id); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// Summary reports the exchange count, the last few queries and the time of
// the last exchange. Unknown sessions summarize as empty.
func (m *Manager) Summary(ctx context.Context, id string) (models.SessionSummary, error) {
	if strings.TrimSpace(id) == "" {
		return models.SessionSummary{}, ErrMissingID
	}
	sum := models.SessionSummary{SessionID: id, Topics: []string{}}
	st, err := m.store.Load(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return sum, nil
	}
	if err != nil {
		return sum, err
	}

	sum.Exchanges = len(st.Turns)
	for _, t := range st.Turns[max(0, len(st.Turns)-summaryTopics):] {
		sum.Topics = append(sum.Topics, models.Preview(t.Query, summaryTopicLen))
	}
	if n := len(st.Turns); n > 0 {
		last := st.Turns[n-1].At
		sum.LastActivity = &last
	}
	return sum, nil
}
