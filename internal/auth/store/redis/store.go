package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gabizap/internal/auth/store"
	"gabizap/pkg/platform/sentinel"
)

// DefaultPrefix namespaces the token key.
const DefaultPrefix = "gabizap:session:"

// Store keeps the token in Redis so several client processes on one host or
// kiosk fleet can share a session.
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.key = prefix + store.Key }
}

// WithTTL expires the persisted token after ttl. Zero keeps it until logout.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New constructs a Redis-backed token slot. The client lifecycle is managed by the caller.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		key:    DefaultPrefix + store.Key,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Key is the full Redis key of the token slot.
func (s *Store) Key() string {
	return s.key
}

func (s *Store) Load(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && token == "") {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get token: %w", err)
	}
	return token, nil
}

func (s *Store) Save(ctx context.Context, token string) error {
	if err := s.client.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del token: %w", err)
	}
	return nil
}
