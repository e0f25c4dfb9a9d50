package artifact

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/armorclaw/crashreport/pkg/errors"
)

// RedisStore keeps artifacts as Redis strings. Entries expire after the
// retention period, so no sweep is needed.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Write stores the artifact with SETNX
func (s *RedisStore) Write(ctx context.Context, key, content string) error {
	ok, err := s.client.SetNX(ctx, s.key(key), content, s.retention).Result()
	if err != nil {
		return errors.Wrapf(errors.CodeArtifactUpload, err, "set %s", key)
	}
	if !ok {
		return errors.Newf(errors.CodeArtifactExists, "artifact %s already exists", key)
	}
	return nil
}

// Read returns the stored content
func (s *RedisStore) Read(ctx context.Context, key string) (string, bool, error) {
	content, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(errors.CodeArtifactRead, err, "get %s", key)
	}
	return content, true, nil
}

// Delete removes the key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrapf(errors.CodeArtifactDelete, err, "del %s", key)
	}
	return nil
}
