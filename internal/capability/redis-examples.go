package capability

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/agentflow/pkg/api"
)

// RedisExamples is a versioned ExampleStore in Redis. Conditional writes use
// WATCH so a write only commits if no other writer touched the key since it
// was read
type RedisExamples struct {
	client *redis.Client
	prefix string
}

const examplesKeySegment = ":examples:"

var _ api.ExampleStore = (*RedisExamples)(nil)

// NewRedisExamples creates an example store over client
func NewRedisExamples(client *redis.Client, prefix string) *RedisExamples {
	return &RedisExamples{
		client: client,
		prefix: prefix,
	}
}

// Read returns the record under key and its version
func (s *RedisExamples) Read(
	ctx context.Context, key string,
) (*api.ExampleRecord, int64, error) {
	data, err := s.client.Get(ctx, s.keyFor(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, retryable(err)
	}
	return decodeRecord(data)
}

// WriteIfVersion stores rec only if the stored version still equals version.
// It reports false when the version moved or a concurrent write raced it
func (s *RedisExamples) WriteIfVersion(
	ctx context.Context, key string, version int64, rec *api.ExampleRecord,
) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	rkey := s.keyFor(key)
	stale := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, rkey).Bytes()
		var current int64
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			_, v, err := decodeRecord(cur)
			if err != nil {
				return err
			}
			current = v
		}
		if current != version {
			stale = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, rkey, data, 0)
			return nil
		})
		return err
	}, rkey)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, retryable(err)
	default:
		return !stale, nil
	}
}

func (s *RedisExamples) keyFor(key string) string {
	return s.prefix + examplesKeySegment + key
}
