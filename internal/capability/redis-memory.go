package capability

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/agentflow/pkg/api"
)

// RedisMemory is a MemoryStore keeping JSON-encoded values in Redis
type RedisMemory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

const memoryKeySegment = ":memory:"

var _ api.MemoryStore = (*RedisMemory)(nil)

// NewRedisMemory creates a store over client. Keys are namespaced by prefix
// and expire after ttl when it is positive
func NewRedisMemory(
	client *redis.Client, prefix string, ttl time.Duration,
) *RedisMemory {
	return &RedisMemory{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get returns the decoded value stored under key
func (m *RedisMemory) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := m.client.Get(ctx, m.keyFor(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, retryable(err)
	}
	var res any
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Put stores the JSON encoding of value under key
func (m *RedisMemory) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.keyFor(key), data, m.ttl).Err(); err != nil {
		return retryable(err)
	}
	return nil
}

func (m *RedisMemory) keyFor(key string) string {
	return m.prefix + memoryKeySegment + key
}

func retryable(err error) error {
	return &api.ExternalCallError{Err: err, Retryable: true}
}
