package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

func waiters(m *Manager, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.gates[id]; g != nil {
		return len(g.waiters)
	}
	return 0
}

func TestManager_AppendAndReset(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	st, err := m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, st.Turns)
	assert.False(t, st.CreatedAt.IsZero())

	for i := 0; i < 3; i++ {
		require.NoError(t, m.AppendTurn(ctx, "s1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}
	st, err = m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, st.Turns, 3)
	assert.Equal(t, "q0", st.Turns[0].Query)
	assert.Equal(t, "a2", st.Turns[2].Answer)

	require.NoError(t, m.Reset(ctx, "s1"))
	after, err := m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, after.Turns)
	assert.Equal(t, st.CreatedAt, after.CreatedAt)
}

func TestManager_RejectsEmptyID(t *testing.T) {
	m := NewManager(NewMemoryStore())
	_, err := m.GetOrCreate(context.Background(), " ")
	assert.ErrorIs(t, err, ErrMissingID)
	_, err = m.Begin(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestManager_BeginIsFIFO(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	release, err := m.Begin(ctx, "s")
	require.NoError(t, err)

	const n = 5
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := m.Begin(ctx, "s")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			assert.NoError(t, m.AppendTurn(ctx, "s", fmt.Sprint(i), "ok"))
			rel()
		}()
		// make sure goroutine i is queued before i+1 starts
		require.Eventually(t, func() bool { return waiters(m, "s") == i+1 }, time.Second, time.Millisecond)
	}

	release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	st, err := m.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	require.Len(t, st.Turns, n)
	for i, turn := range st.Turns {
		assert.Equal(t, fmt.Sprint(i), turn.Query)
	}

	m.mu.Lock()
	assert.Empty(t, m.gates)
	m.mu.Unlock()
}

func TestManager_BeginHonoursCancellation(t *testing.T) {
	m := NewManager(NewMemoryStore())
	release, err := m.Begin(context.Background(), "s")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Begin(ctx, "s")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, waiters(m, "s"))

	release()
	release() // second call is a no-op

	rel, err := m.Begin(context.Background(), "s")
	require.NoError(t, err)
	rel()
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := NewManager(NewMemoryStore())
	relA, err := m.Begin(context.Background(), "a")
	require.NoError(t, err)
	defer relA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	relB, err := m.Begin(ctx, "b")
	require.NoError(t, err)
	relB()
}

func TestManager_Summary(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	sum, err := m.Summary(ctx, "new")
	require.NoError(t, err)
	assert.Zero(t, sum.Exchanges)
	assert.Empty(t, sum.Topics)
	assert.Nil(t, sum.LastActivity)

	long := strings.Repeat("x", 60)
	for i := 0; i < 6; i++ {
		q := fmt.Sprintf("question %d", i)
		if i == 5 {
			q = long
		}
		require.NoError(t, m.AppendTurn(ctx, "s", q, "answer"))
	}

	sum, err = m.Summary(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Exchanges)
	require.Len(t, sum.Topics, 5)
	assert.Equal(t, "question 1", sum.Topics[0])
	assert.Equal(t, strings.Repeat("x", 50)+"...", sum.Topics[4])
	assert.NotNil(t, sum.LastActivity)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, "s", models.Turn{Query: "q", Answer: "a"}))

	st, err := s.Load(ctx, "s")
	require.NoError(t, err)
	st.Turns[0].Answer = "changed"

	again, err := s.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Turns[0].Answer)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
