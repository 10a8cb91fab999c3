package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"certflow/pkg/platform/sentinel"
)

const keyPrefix = "certflow:submit-claim:"

// releaseScript deletes the key only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares claims across service instances.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire takes the claim for key or returns sentinel.ErrAlreadyClaimed.
func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (Token, error) {
	token := Token(uuid.NewString())
	err := s.client.SetArgs(ctx, keyPrefix+key, string(token), redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", sentinel.ErrAlreadyClaimed
		}
		return "", fmt.Errorf("acquire submit claim: %w: %w", sentinel.ErrUnavailable, err)
	}
	return token, nil
}

// Release drops the claim if token still holds it.
func (s *RedisStore) Release(ctx context.Context, key string, token Token) error {
	if err := releaseScript.Run(ctx, s.client, []string{keyPrefix + key}, string(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release submit claim: %w", err)
	}
	return nil
}
