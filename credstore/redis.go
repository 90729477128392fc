package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// ErrRedisUnavailable wraps connection-level failures from RedisStore.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisStore keeps credentials in a redis hash so that several processes can
// share one session.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedisStore returns a RedisStore using hash "<prefix>:<clientID>". A
// positive ttl expires the hash after the last Set.
func NewRedisStore(rdb redis.UniversalClient, prefix, clientID string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "recon:credentials"
	}
	return &RedisStore{rdb: rdb, key: prefix + ":" + clientID, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context) (*oauth2.Token, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if fields[KeyAccessToken] == "" && fields[KeyRefreshToken] == "" {
		return nil, ErrNotFound
	}
	return &oauth2.Token{
		AccessToken:  fields[KeyAccessToken],
		RefreshToken: fields[KeyRefreshToken],
		TokenType:    fields[KeyTokenType],
	}, nil
}

func (s *RedisStore) Set(ctx context.Context, access, refresh string) error {
	values := map[string]any{
		KeyAccessToken: access,
		KeyTokenType:   "Bearer",
	}
	if refresh != "" {
		values[KeyRefreshToken] = refresh
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key, values)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
