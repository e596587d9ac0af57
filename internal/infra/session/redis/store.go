// Package redis implements environment.SessionStore on Redis hashes so the
// selected environment survives across service instances.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	sessions := redis.New(client, redis.WithTTL(24*time.Hour))
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"shopcore/internal/environment"
)

var _ environment.SessionStore = (*Store)(nil)

const (
	defaultPrefix = "shopcore:session:"
	defaultTTL    = 30 * 24 * time.Hour
)

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix of session hashes.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL sets the expiry refreshed on every write. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store keeps one Redis hash per session.
type Store struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Redis-backed session store. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, ttl: defaultTTL, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(sessionID string) string { return s.prefix + sessionID }

// Get implements environment.SessionStore.
func (s *Store) Get(ctx context.Context, sessionID, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key(sessionID), field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis session get: %w", err)
	}
	return v, true, nil
}

// Set implements environment.SessionStore.
func (s *Store) Set(ctx context.Context, sessionID, field, value string) error {
	key := s.key(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis session set: %w", err)
	}
	s.logger.DebugContext(ctx, "session value stored", "key", key, "field", field)
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
