// Package stream provides append-only, replayable, live-subscribable
// streams: durable chunk records in the kv capability plus a pubsub topic
// per stream for live notification. Subscribers can replay from any
// sequence number and then switch to live delivery without gaps or
// duplicates.
package stream

import "time"

// Chunk is one immutable piece of a stream. Sequence is 1-based and
// strictly increasing per stream.
type Chunk struct {
	ID        string    `json:"id" msgpack:"id"`
	StreamID  string    `json:"stream_id" msgpack:"stream_id"`
	Data      []byte    `json:"data,omitempty" msgpack:"data,omitempty"`
	Sequence  int64     `json:"sequence" msgpack:"sequence"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Metadata is a stream's lifecycle record. ChunkCount always equals the
// highest sequence written.
type Metadata struct {
	ID         string            `json:"id" msgpack:"id"`
	IsOpen     bool              `json:"is_open" msgpack:"is_open"`
	ChunkCount int64             `json:"chunk_count" msgpack:"chunk_count"`
	Metadata   map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at" msgpack:"created_at"`
	ClosedAt   *time.Time        `json:"closed_at,omitempty" msgpack:"closed_at,omitempty"`
}

// Notification message types carried on a stream's topic.
const (
	notifyChunk  = "chunk"
	notifyClosed = "stream_closed"
)

// envelope is the wire format published on a stream's topic.
type envelope struct {
	Type  string `json:"type" msgpack:"type"`
	Chunk *Chunk `json:"chunk,omitempty" msgpack:"chunk,omitempty"`
}

// Handler receives replayed and live chunks, in sequence order, each at
// most once per subscription.
type Handler func(chunk *Chunk)
