package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

// RedisStore shares sessions between API instances. Each session is a hash
// holding its creation time plus a list of JSON-encoded turns; RPUSH keeps
// appends atomic.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) metaKey(id string) string  { return s.prefix + id }
func (s *RedisStore) turnsKey(id string) string { return s.prefix + id + ":turns" }

func (s *RedisStore) Load(ctx context.Context, id string) (models.SessionState, error) {
	var (
		created *redis.StringCmd
		turns   *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		created = p.HGet(ctx, s.metaKey(id), "created_at")
		turns = p.LRange(ctx, s.turnsKey(id), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.SessionState{}, fmt.Errorf("load session %s: %w", id, err)
	}

	at, err := created.Result()
	if errors.Is(err, redis.Nil) {
		return models.SessionState{}, models.ErrNotFound
	}
	if err != nil {
		return models.SessionState{}, fmt.Errorf("load session %s: %w", id, err)
	}

	st := models.SessionState{SessionID: id}
	if st.CreatedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return models.SessionState{}, fmt.Errorf("decode session %s created_at: %w", id, err)
	}
	for _, raw := range turns.Val() {
		var t models.Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return models.SessionState{}, fmt.Errorf("decode session %s turn: %w", id, err)
		}
		st.Turns = append(st.Turns, t)
	}
	return st, nil
}

func (s *RedisStore) Create(ctx context.Context, id string, at time.Time) error {
	if err := s.client.HSetNX(ctx, s.metaKey(id), "created_at", at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, id string, turn models.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, s.metaKey(id), "created_at", turn.At.UTC().Format(time.RFC3339Nano))
		p.RPush(ctx, s.turnsKey(id), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turn to session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, s.metaKey(id), "created_at", time.Now().UTC().Format(time.RFC3339Nano))
		p.Del(ctx, s.turnsKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset session %s: %w", id, err)
	}
	return nil
}
