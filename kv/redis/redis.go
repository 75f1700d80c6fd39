// Package redis implements kv.Store on Redis. Each namespace maps to a key
// prefix ("<namespace>:<key>") and values are stored as plain strings.
// Conditional writes use a small Lua script so index appends and sequence
// counters are exactly-once under concurrent writers.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := kvredis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/substrate/kv"
)

// Compile-time interface checks.
var (
	_ kv.Store            = (*Store)(nil)
	_ kv.ConditionalStore = (*Store)(nil)
	_ kv.Pinger           = (*Store)(nil)
)

// casScript atomically writes ARGV[3] only when the current value matches
// ARGV[2] (or the key is absent, when ARGV[1] is "0").
var casScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '0' then
  if cur then return 0 end
else
  if not cur or cur ~= ARGV[2] then return 0 end
end
redis.call('SET', KEYS[1], ARGV[3])
return 1
`)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements kv.Store backed by Redis.
type Store struct {
	client *goredis.Client
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() *goredis.Client { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// redisKey joins namespace and key into the stored Redis key.
func redisKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get returns the value at key, or ok=false if absent.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("substrate/kv/redis: get %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes all entries in a single pipeline round trip.
func (s *Store) Set(ctx context.Context, namespace string, entries ...kv.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, e := range entries {
		pipe.Set(ctx, redisKey(namespace, e.Key), e.Value, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("substrate/kv/redis: set batch: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if err := s.client.Del(ctx, redisKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("substrate/kv/redis: delete %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes value only if the current value equals old.
// old == nil means the key must not exist.
func (s *Store) CompareAndSwap(ctx context.Context, namespace, key string, old, value []byte) (bool, error) {
	hasOld := "1"
	if old == nil {
		hasOld = "0"
	}
	res, err := casScript.Run(ctx, s.client,
		[]string{redisKey(namespace, key)},
		hasOld, string(old), string(value),
	).Int()
	if err != nil {
		return false, fmt.Errorf("substrate/kv/redis: cas %s: %w", key, err)
	}
	return res == 1, nil
}
