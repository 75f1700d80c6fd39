// Package observability provides OpenTelemetry-based metric counters for
// substrate lifecycle events: runs created, events appended, queue messages
// sent/acked/retried/dead-lettered, and stream chunks written.
//
// Metrics are optional. A nil *Metrics is a valid no-op receiver, so
// subsystems record unconditionally without nil checks at call sites.
package observability
