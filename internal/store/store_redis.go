package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKey   = "playgate:session"
	challengeKey = "playgate:challenge_id"
)

// RedisStore keeps state in Redis, for deployments where the player's
// workflow state lives server-side (cloud saves, thin clients). Keys carry
// no TTL; resolution and reset paths delete them explicitly.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces the two state keys, typically by player id, so
// one Redis instance can hold many players.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedis constructs a Redis-backed store. The client lifecycle is managed
// externally.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) SaveSession(ctx context.Context, blob []byte) error {
	if err := s.client.Set(ctx, s.prefix+sessionKey, blob, 0).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+sessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return data, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context) error {
	if err := s.client.Del(ctx, s.prefix+sessionKey).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveChallengeID(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, s.prefix+challengeKey, id, 0).Err(); err != nil {
		return fmt.Errorf("save challenge id: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadChallengeID(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, s.prefix+challengeKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load challenge id: %w", err)
	}
	return id, nil
}

func (s *RedisStore) DeleteChallengeID(ctx context.Context) error {
	if err := s.client.Del(ctx, s.prefix+challengeKey).Err(); err != nil {
		return fmt.Errorf("delete challenge id: %w", err)
	}
	return nil
}
