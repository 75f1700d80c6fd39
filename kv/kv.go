// Package kv defines the key-value store capability every substrate
// subsystem is built on. The contract is deliberately small — single-key
// get, batched set, single-key delete — because that is all the weakest
// supported backend offers. No multi-key atomicity is assumed even where
// callers issue multi-entry Set calls; the store package layers write
// intents on top for crash repair.
package kv

import "context"

// Entry is one key/value pair in a batched Set.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the key-value capability contract. Keys are namespaced strings;
// absence is reported through the ok return, never as an error.
type Store interface {
	// Get returns the value stored at key, or ok=false if the key is
	// absent. A backend failure is returned as an error.
	Get(ctx context.Context, namespace, key string) (value []byte, ok bool, err error)

	// Set writes all entries. Backends apply entries independently; a
	// failure may leave a prefix of the batch applied.
	Set(ctx context.Context, namespace string, entries ...Entry) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error
}

// ConditionalStore is implemented by backends that support conditional
// writes. Index appends and sequence counters use it, when available, to
// get exactly-once semantics under concurrent writers instead of the racy
// read-then-write fallback.
type ConditionalStore interface {
	Store

	// CompareAndSwap writes value only if the current value at key equals
	// old. old == nil means the key must not exist. Returns swapped=false
	// on mismatch without writing.
	CompareAndSwap(ctx context.Context, namespace, key string, old, value []byte) (swapped bool, err error)
}

// Pinger is implemented by backends that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
