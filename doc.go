// Package substrate provides a durable-execution state layer for workflow
// engines: persistent runs, steps, append-only event histories, callback
// hooks, an at-least-once message queue, and replayable output streams —
// all built on two injected capabilities: a key-value store and a
// publish/subscribe bus.
//
// Substrate is designed as a library, not a service. Import it, inject a
// kv.Store and a pubsub.Bus, and build the subsystems with the engine
// package:
//
//	c, err := substrate.New(
//	    substrate.WithKV(kvmemory.New()),
//	    substrate.WithBus(psmemory.New()),
//	)
//	eng, err := engine.Build(c)
//
// # Architecture
//
// Three subsystems share the capability substrate and nothing else:
//
//   - store: Run/Step/Event/Hook persistence with secondary indexes and a
//     cache-key lookup, built from single-key get/set/delete.
//   - queue: visibility-delayed, concurrency-limited, retried delivery with
//     dead-letter routing, built from best-effort pub/sub.
//   - stream: append-only chunk logs with replay-from-sequence plus live
//     fan-out, built from both capabilities.
//
// Generated entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers. Run and step IDs are caller-supplied strings.
package substrate
