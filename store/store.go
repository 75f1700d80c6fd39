package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/xraph/substrate"
	"github.com/xraph/substrate/codec"
	"github.com/xraph/substrate/kv"
	"github.com/xraph/substrate/observability"
)

// Store provides CRUD and listing for runs, steps, events, and hooks over
// the kv capability. It holds no durable state of its own; all methods are
// safe for concurrent use.
type Store struct {
	kv      kv.Store
	cas     kv.ConditionalStore // nil when the backend lacks conditional writes
	codec   codec.Codec
	logger  *slog.Logger
	metrics *observability.Metrics

	namespace  string
	casRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the record codec. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the lifecycle metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithNamespace overrides the key namespace. Defaults to "workflow".
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// WithCASRetries bounds the compare-and-swap retry loop.
func WithCASRetries(n int) Option {
	return func(s *Store) { s.casRetries = n }
}

// New creates a Store over the given kv backend. When the backend also
// implements kv.ConditionalStore, index appends and sequence counters use
// compare-and-swap instead of read-then-write.
func New(backend kv.Store, opts ...Option) *Store {
	cfg := substrate.DefaultConfig()
	s := &Store{
		kv:         backend,
		codec:      codec.Default(),
		logger:     slog.Default(),
		namespace:  cfg.Namespace,
		casRetries: cfg.CASRetries,
	}
	if cas, ok := backend.(kv.ConditionalStore); ok {
		s.cas = cas
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Record helpers
// ──────────────────────────────────────────────────

// getRecord loads and decodes the record at key. ok=false when absent.
func (s *Store) getRecord(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.namespace, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := s.codec.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("substrate/store: decode %s: %w", key, err)
	}
	return true, nil
}

// putRecord encodes and writes a single record.
func (s *Store) putRecord(ctx context.Context, key string, v any) error {
	raw, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("substrate/store: encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, s.namespace, kv.Entry{Key: key, Value: raw})
}

// encode marshals a value into a kv entry.
func (s *Store) encode(key string, v any) (kv.Entry, error) {
	raw, err := s.codec.Marshal(v)
	if err != nil {
		return kv.Entry{}, fmt.Errorf("substrate/store: encode %s: %w", key, err)
	}
	return kv.Entry{Key: key, Value: raw}, nil
}

// ──────────────────────────────────────────────────
// Index helpers
// ──────────────────────────────────────────────────

// readIndex returns the members of the index at key, plus the raw bytes
// for CAS comparisons. An absent index reads as empty.
func (s *Store) readIndex(ctx context.Context, key string) ([]string, []byte, error) {
	raw, ok, err := s.kv.Get(ctx, s.namespace, key)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil
	}
	var members []string
	if err := s.codec.Unmarshal(raw, &members); err != nil {
		return nil, nil, fmt.Errorf("substrate/store: decode index %s: %w", key, err)
	}
	return members, raw, nil
}

// appendIndex adds member to the index at key if not already present.
// Exactly-once under concurrent writers when the backend supports CAS.
func (s *Store) appendIndex(ctx context.Context, key, member string) error {
	for attempt := 0; ; attempt++ {
		members, raw, err := s.readIndex(ctx, key)
		if err != nil {
			return err
		}
		if slices.Contains(members, member) {
			return nil
		}

		next, err := s.codec.Marshal(append(members, member))
		if err != nil {
			return fmt.Errorf("substrate/store: encode index %s: %w", key, err)
		}

		if s.cas == nil {
			return s.kv.Set(ctx, s.namespace, kv.Entry{Key: key, Value: next})
		}

		swapped, err := s.cas.CompareAndSwap(ctx, s.namespace, key, raw, next)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
		if attempt >= s.casRetries {
			return fmt.Errorf("substrate/store: append to %s: %w", key, substrate.ErrConflict)
		}
	}
}

// removeIndex removes member from the index at key. Removing from an
// absent index, or an absent member, is a no-op.
func (s *Store) removeIndex(ctx context.Context, key, member string) error {
	for attempt := 0; ; attempt++ {
		members, raw, err := s.readIndex(ctx, key)
		if err != nil {
			return err
		}
		idx := slices.Index(members, member)
		if idx < 0 {
			return nil
		}

		next, err := s.codec.Marshal(slices.Delete(members, idx, idx+1))
		if err != nil {
			return fmt.Errorf("substrate/store: encode index %s: %w", key, err)
		}

		if s.cas == nil {
			return s.kv.Set(ctx, s.namespace, kv.Entry{Key: key, Value: next})
		}

		swapped, err := s.cas.CompareAndSwap(ctx, s.namespace, key, raw, next)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
		if attempt >= s.casRetries {
			return fmt.Errorf("substrate/store: remove from %s: %w", key, substrate.ErrConflict)
		}
	}
}

// ──────────────────────────────────────────────────
// Counter helpers
// ──────────────────────────────────────────────────

// bumpCounter atomically increments the counter at key and returns the new
// value. ok=false when the counter does not exist (the parent entity was
// never created).
func (s *Store) bumpCounter(ctx context.Context, key string) (int64, bool, error) {
	for attempt := 0; ; attempt++ {
		raw, ok, err := s.kv.Get(ctx, s.namespace, key)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}

		cur, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("substrate/store: counter %s corrupt: %w", key, err)
		}
		next := cur + 1
		nextRaw := []byte(strconv.FormatInt(next, 10))

		if s.cas == nil {
			if err := s.kv.Set(ctx, s.namespace, kv.Entry{Key: key, Value: nextRaw}); err != nil {
				return 0, false, err
			}
			return next, true, nil
		}

		swapped, err := s.cas.CompareAndSwap(ctx, s.namespace, key, raw, nextRaw)
		if err != nil {
			return 0, false, err
		}
		if swapped {
			return next, true, nil
		}
		if attempt >= s.casRetries {
			return 0, false, fmt.Errorf("substrate/store: bump counter %s: %w", key, substrate.ErrConflict)
		}
	}
}

// counterEntry builds the kv entry initializing a counter to n.
func counterEntry(key string, n int64) kv.Entry {
	return kv.Entry{Key: key, Value: []byte(strconv.FormatInt(n, 10))}
}
