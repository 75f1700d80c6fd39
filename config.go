package substrate

import "time"

// Config holds configuration shared by all substrate subsystems.
type Config struct {
	// Namespace is the key-value namespace all durable records live under.
	// External tooling may inspect the store directly, so the key layout
	// below this namespace is stable.
	Namespace string

	// QueuePrefix is prepended to queue names to form bus topics:
	// "<QueuePrefix>-<queue>". The dead-letter topic for a queue is the
	// queue topic plus a "-dlq" suffix.
	QueuePrefix string

	// StreamPrefix is prepended to stream IDs to form the live
	// notification topic: "<StreamPrefix>-<streamID>".
	StreamPrefix string

	// DefaultMaxAttempts is the retry budget for queue messages that do
	// not specify their own.
	DefaultMaxAttempts int

	// CASRetries bounds the compare-and-swap retry loop used for index
	// appends and sequence counters on backends that support conditional
	// writes.
	CASRetries int

	// MaxVisibilityWait caps how long a locally rescheduled message waits
	// before its visibility is re-checked.
	MaxVisibilityWait time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:          "workflow",
		QueuePrefix:        "substrate-queue",
		StreamPrefix:       "substrate-stream",
		DefaultMaxAttempts: 3,
		CASRetries:         8,
		MaxVisibilityWait:  60 * time.Second,
	}
}
