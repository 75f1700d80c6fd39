// Package postgres implements kv.Store on PostgreSQL through the Bun ORM.
// All entries live in a single substrate_kv_entries table keyed by
// (namespace, key); batched sets are upserts, and conditional writes are
// expressed as guarded INSERT/UPDATE statements so CAS semantics hold
// without advisory locks.
//
// Usage:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := kvpostgres.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/substrate/kv"
)

// Compile-time interface checks.
var (
	_ kv.Store            = (*Store)(nil)
	_ kv.ConditionalStore = (*Store)(nil)
	_ kv.Pinger           = (*Store)(nil)
)

type entryModel struct {
	bun.BaseModel `bun:"table:substrate_kv_entries"`

	Namespace string    `bun:"namespace,pk"`
	Key       string    `bun:"key,pk"`
	Value     []byte    `bun:"value,notnull,type:bytea"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is a Bun implementation of kv.Store using the PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// New creates a new Bun-backed store. The caller owns the db lifecycle.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the entries table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS substrate_kv_entries (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, key)
		)
	`)
	if err != nil {
		return fmt.Errorf("substrate/kv/postgres: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the value at key, or ok=false if absent.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	m := new(entryModel)
	err := s.db.NewSelect().Model(m).
		Where("namespace = ?", namespace).
		Where("key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("substrate/kv/postgres: get %s: %w", key, err)
	}
	return m.Value, true, nil
}

// Set upserts all entries in one statement.
func (s *Store) Set(ctx context.Context, namespace string, entries ...kv.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]entryModel, 0, len(entries))
	for _, e := range entries {
		models = append(models, entryModel{
			Namespace: namespace,
			Key:       e.Key,
			Value:     e.Value,
			UpdatedAt: now,
		})
	}

	_, err := s.db.NewInsert().Model(&models).
		On("CONFLICT (namespace, key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("substrate/kv/postgres: set batch: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.NewDelete().Model((*entryModel)(nil)).
		Where("namespace = ?", namespace).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("substrate/kv/postgres: delete %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes value only if the current value equals old.
// old == nil means the key must not exist (guarded INSERT); otherwise a
// guarded UPDATE carries the comparison in its WHERE clause.
func (s *Store) CompareAndSwap(ctx context.Context, namespace, key string, old, value []byte) (bool, error) {
	now := time.Now().UTC()

	if old == nil {
		res, err := s.db.NewInsert().Model(&entryModel{
			Namespace: namespace,
			Key:       key,
			Value:     value,
			UpdatedAt: now,
		}).
			On("CONFLICT (namespace, key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("substrate/kv/postgres: cas insert %s: %w", key, err)
		}
		rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
		return rows == 1, nil
	}

	res, err := s.db.NewUpdate().Model((*entryModel)(nil)).
		Set("value = ?", value).
		Set("updated_at = ?", now).
		Where("namespace = ?", namespace).
		Where("key = ?", key).
		Where("value = ?", old).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("substrate/kv/postgres: cas update %s: %w", key, err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows == 1, nil
}
