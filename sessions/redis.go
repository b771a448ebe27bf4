package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisManager stores sessions in Redis with a sliding TTL, for
// deployments where several embedding processes share a session space.
type RedisManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisManager connects to Redis. ttl is the sliding session
// lifetime; zero means one hour.
func NewRedisManager(addr, password, prefix string, ttl time.Duration, logger *zap.Logger) (*RedisManager, error) {
	if prefix == "" {
		prefix = "substrate:session:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis session store: %w", err)
	}
	return &RedisManager{client: client, prefix: prefix, ttl: ttl, logger: logger}, nil
}

func (m *RedisManager) key(id string) string { return m.prefix + id }

func (m *RedisManager) Establish(ctx context.Context, id, remoteAddr, userAgent string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err == nil {
		s.Touch()
		if err := m.Save(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now()
	s = &Session{
		ID:         id,
		Created:    now,
		LastAccess: now,
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		Uploads:    map[string]string{},
	}
	if err := m.write(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *RedisManager) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := m.client.Get(ctx, m.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func (m *RedisManager) Save(ctx context.Context, s *Session) error {
	if err := m.client.Exists(ctx, m.key(s.ID)).Err(); err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	return m.write(ctx, s)
}

func (m *RedisManager) write(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.client.Set(ctx, m.key(s.ID), raw, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (m *RedisManager) Invalidate(ctx context.Context, id string) error {
	if err := m.client.Del(ctx, m.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// ExpireBefore is a no-op for Redis: the sliding TTL set on every write
// already evicts idle sessions.
func (m *RedisManager) ExpireBefore(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (m *RedisManager) Close() error {
	return m.client.Close()
}
