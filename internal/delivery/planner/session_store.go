package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "planner:session:"

// SessionStore persists planning sessions between plan and submit.
type SessionStore interface {
	Save(ctx context.Context, plan Plan) error
	Load(ctx context.Context, sessionID string) (Plan, error)
	Delete(ctx context.Context, sessionID string) error
	TTL() time.Duration
}

// RedisSessionStore keeps sessions as JSON documents that expire after ttl.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore builds a store.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

// TTL returns the session lifetime.
func (s *RedisSessionStore) TTL() time.Duration { return s.ttl }

// Save writes the plan and resets its expiry.
func (s *RedisSessionStore) Save(ctx context.Context, plan Plan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("planner: encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+plan.SessionID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("planner: save session: %w", err)
	}
	return nil
}

// Load reads a plan. Expired and unknown sessions return ErrSessionNotFound.
func (s *RedisSessionStore) Load(ctx context.Context, sessionID string) (Plan, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Plan{}, ErrSessionNotFound
	}
	if err != nil {
		return Plan{}, fmt.Errorf("planner: load session: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return Plan{}, fmt.Errorf("planner: decode session: %w", err)
	}
	return plan, nil
}

// Delete drops a session.
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKeyPrefix+sessionID).Err()
}
