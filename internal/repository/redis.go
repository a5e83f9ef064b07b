package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

const sessionKeyPrefix = "connect:session:"

var _ SessionStore = (*RedisSessionStore)(nil)

// RedisSessionStore keeps connect sessions in Redis with a per-entry
// TTL, so abandoned handshakes clean themselves up.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Save(ctx context.Context, id string, session domain.ConnectSession, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal connect session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+id, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save connect session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (domain.ConnectSession, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ConnectSession{}, domain.ErrSessionNotFound
		}
		return domain.ConnectSession{}, fmt.Errorf("load connect session: %w", err)
	}
	var session domain.ConnectSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.ConnectSession{}, fmt.Errorf("unmarshal connect session: %w", err)
	}
	return session, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete connect session: %w", err)
	}
	return nil
}
