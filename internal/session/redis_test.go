package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

// Runs against a real server only when REDIS_TEST_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	prefix := "test:" + uuid.NewString() + ":"
	s := NewRedisStore(client, prefix)
	t.Cleanup(func() {
		client.Del(ctx, prefix+"s", prefix+"s:turns")
	})

	_, err := s.Load(ctx, "s")
	assert.ErrorIs(t, err, models.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Create(ctx, "s", now))
	require.NoError(t, s.Append(ctx, "s", models.Turn{Query: "q1", Answer: "a1", At: now}))
	require.NoError(t, s.Append(ctx, "s", models.Turn{Query: "q2", Answer: "a2", At: now}))

	st, err := s.Load(ctx, "s")
	require.NoError(t, err)
	assert.True(t, now.Equal(st.CreatedAt))
	require.Len(t, st.Turns, 2)
	assert.Equal(t, "q2", st.Turns[1].Query)

	require.NoError(t, s.Reset(ctx, "s"))
	st, err = s.Load(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, st.Turns)
}
