// Package cache keeps embedding vectors in redis so identical inputs skip
// the model call.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache implements embedding.VectorCache. Vectors are stored as packed
// little-endian float32s.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// GetVector reports misses and redis failures alike as a miss, so embedding
// never depends on the cache being up.
func (c *Cache) GetVector(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("vector cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	v, err := decodeVector(raw)
	if err != nil {
		slog.Warn("dropping corrupt cached vector", "key", key, "error", err)
		c.client.Del(ctx, key)
		return nil, false
	}
	return v, len(v) > 0
}

func (c *Cache) SetVector(ctx context.Context, key string, v []float32, ttl time.Duration) {
	if err := c.client.Set(ctx, key, encodeVector(v), ttl).Err(); err != nil {
		slog.Debug("vector cache write failed", "key", key, "error", err)
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
