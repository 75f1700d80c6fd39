// Package store implements the durable state layer for workflow runs,
// steps, append-only event histories, and callback hooks, expressed
// entirely as reads and writes against the kv capability.
//
// Every entity follows the same index-plus-record pattern: the record
// lives at its own key and its ID is tracked in a secondary index so the
// entity set can be enumerated over a store that has no scan primitive.
// Index appends and per-run sequence counters use compare-and-swap with a
// bounded retry loop when the backend supports it, making them exactly-once
// under concurrent writers; on backends without conditional writes they
// degrade to read-then-write.
//
// Multi-key batches are not atomic on the underlying store. Batches are
// covered by a write-ahead intent record so a crash mid-batch is detectable
// and repairable via RecoverIntents on the next start.
package store
