package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/armorclaw/crashreport/pkg/errors"
)

// RedisStore keeps sessions as JSON strings with a TTL
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Load returns the session values; missing sessions are empty
func (s *RedisStore) Load(ctx context.Context, id string) (map[string]any, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return map[string]any{}, nil
		}
		return nil, errors.Wrapf(errors.CodeSessionLoad, err, "load session %s", id)
	}

	values := map[string]any{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrapf(errors.CodeSessionLoad, err, "decode session %s", id)
	}
	return values, nil
}

// Save stores the session values and refreshes the TTL
func (s *RedisStore) Save(ctx context.Context, id string, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return errors.Wrapf(errors.CodeSessionSave, err, "encode session %s", id)
	}
	if err := s.client.Set(ctx, s.prefix+id, data, s.ttl).Err(); err != nil {
		return errors.Wrapf(errors.CodeSessionSave, err, "save session %s", id)
	}
	return nil
}

// Delete drops the session
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return errors.Wrapf(errors.CodeSessionSave, err, "delete session %s", id)
	}
	return nil
}
