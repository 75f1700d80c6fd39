package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/substrate"
	"github.com/xraph/substrate/codec"
	"github.com/xraph/substrate/id"
	"github.com/xraph/substrate/kv"
	"github.com/xraph/substrate/observability"
	"github.com/xraph/substrate/pubsub"
)

// Key naming below the configured namespace (default "workflow"):
//
//	workflow:stream:<streamId>              -> Metadata
//	workflow:stream:chunks:<streamId>:<seq> -> Chunk
//	workflow:stream:counter:<streamId>      -> integer

func metaKey(streamID string) string { return "stream:" + streamID }

func chunkKey(streamID string, seq int64) string {
	return "stream:chunks:" + streamID + ":" + strconv.FormatInt(seq, 10)
}

func counterKey(streamID string) string { return "stream:counter:" + streamID }

// Streamer manages append-only streams: durable chunks in the kv store,
// live fan-out over one pubsub topic per stream.
type Streamer struct {
	kv      kv.Store
	bus     pubsub.Bus
	codec   codec.Codec
	logger  *slog.Logger
	metrics *observability.Metrics

	namespace string
	prefix    string

	mu      sync.Mutex
	handles map[string]*Handle
	subs    map[string]*Subscription
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithCodec sets the chunk codec. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(s *Streamer) { s.codec = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Streamer) { s.logger = l }
}

// WithMetrics sets the chunk metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

// WithNamespace overrides the kv namespace. Defaults to "workflow".
func WithNamespace(ns string) Option {
	return func(s *Streamer) { s.namespace = ns }
}

// WithPrefix overrides the topic prefix. Defaults to "substrate-stream".
func WithPrefix(prefix string) Option {
	return func(s *Streamer) { s.prefix = prefix }
}

// New creates a Streamer over the given kv store and bus.
func New(store kv.Store, bus pubsub.Bus, opts ...Option) *Streamer {
	cfg := substrate.DefaultConfig()
	s := &Streamer{
		kv:        store,
		bus:       bus,
		codec:     codec.Default(),
		logger:    slog.Default(),
		namespace: cfg.Namespace,
		prefix:    cfg.StreamPrefix,
		handles:   make(map[string]*Handle),
		subs:      make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// topic returns the notification topic for a stream.
func (s *Streamer) topic(streamID string) string { return s.prefix + "-" + streamID }

func (s *Streamer) getRecord(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.namespace, key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.codec.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("substrate/stream: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Streamer) encode(key string, v any) (kv.Entry, error) {
	raw, err := s.codec.Marshal(v)
	if err != nil {
		return kv.Entry{}, fmt.Errorf("substrate/stream: encode %s: %w", key, err)
	}
	return kv.Entry{Key: key, Value: raw}, nil
}

// ──────────────────────────────────────────────────
// Producing
// ──────────────────────────────────────────────────

// CreateStream opens a stream and returns its write handle. Returns
// ErrStreamAlreadyOpen when a stream with this id exists and is open.
// Creating over a closed stream starts fresh at sequence zero.
func (s *Streamer) CreateStream(ctx context.Context, streamID string, metadata map[string]string) (*Handle, error) {
	var existing Metadata
	ok, err := s.getRecord(ctx, metaKey(streamID), &existing)
	if err != nil {
		return nil, err
	}
	if ok && existing.IsOpen {
		return nil, fmt.Errorf("substrate/stream: create %s: %w", streamID, substrate.ErrStreamAlreadyOpen)
	}

	meta := Metadata{
		ID:        streamID,
		IsOpen:    true,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	entry, err := s.encode(metaKey(streamID), meta)
	if err != nil {
		return nil, err
	}
	counter := kv.Entry{Key: counterKey(streamID), Value: []byte("0")}
	if err := s.kv.Set(ctx, s.namespace, entry, counter); err != nil {
		return nil, err
	}

	h := &Handle{streamer: s, streamID: streamID, meta: meta}
	h.open.Store(true)

	s.mu.Lock()
	s.handles[streamID] = h
	s.mu.Unlock()

	s.logger.Debug("stream created", "stream_id", streamID)
	return h, nil
}

// GetMetadata loads a stream's lifecycle record. ok=false when unknown.
func (s *Streamer) GetMetadata(ctx context.Context, streamID string) (*Metadata, bool, error) {
	var meta Metadata
	ok, err := s.getRecord(ctx, metaKey(streamID), &meta)
	if err != nil || !ok {
		return nil, false, err
	}
	return &meta, true, nil
}

// Handle is the single writer for one open stream. The sequence counter is
// handle-local: writing the same stream id through two concurrently-created
// handles collides on sequence numbers and is not supported.
type Handle struct {
	streamer *Streamer
	streamID string
	meta     Metadata

	mu   sync.Mutex
	seq  int64
	open atomic.Bool
}

// StreamID returns the stream this handle writes.
func (h *Handle) StreamID() string { return h.streamID }

// IsOpen reports whether the handle still accepts writes.
func (h *Handle) IsOpen() bool { return h.open.Load() }

// Write appends data as the next chunk: the chunk, the sequence counter,
// and the metadata chunk count are persisted together, then the chunk is
// published for live subscribers. Returns ErrStreamClosed after Close.
func (h *Handle) Write(ctx context.Context, data []byte) (*Chunk, error) {
	if !h.open.Load() {
		return nil, fmt.Errorf("substrate/stream: write %s: %w", h.streamID, substrate.ErrStreamClosed)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seq := h.seq + 1
	chunk := &Chunk{
		ID:        id.NewChunkID().String(),
		StreamID:  h.streamID,
		Data:      data,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
	}
	h.meta.ChunkCount = seq

	s := h.streamer
	chunkEntry, err := s.encode(chunkKey(h.streamID, seq), chunk)
	if err != nil {
		return nil, err
	}
	metaEntry, err := s.encode(metaKey(h.streamID), h.meta)
	if err != nil {
		return nil, err
	}
	counter := kv.Entry{Key: counterKey(h.streamID), Value: []byte(strconv.FormatInt(seq, 10))}
	if err := s.kv.Set(ctx, s.namespace, chunkEntry, counter, metaEntry); err != nil {
		h.meta.ChunkCount = seq - 1
		return nil, err
	}
	h.seq = seq

	if err := s.notify(ctx, h.streamID, envelope{Type: notifyChunk, Chunk: chunk}); err != nil {
		s.logger.Warn("live chunk notification failed", "stream_id", h.streamID, "sequence", seq, "error", err)
	}
	s.metrics.ChunkWritten(ctx, h.streamID)
	return chunk, nil
}

// Close marks the stream closed and publishes the closed sentinel. It is
// idempotent; further writes fail with ErrStreamClosed.
func (h *Handle) Close(ctx context.Context) error {
	if !h.open.CompareAndSwap(true, false) {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.streamer
	now := time.Now().UTC()
	h.meta.IsOpen = false
	h.meta.ClosedAt = &now
	entry, err := s.encode(metaKey(h.streamID), h.meta)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.namespace, entry); err != nil {
		return err
	}

	if err := s.notify(ctx, h.streamID, envelope{Type: notifyClosed}); err != nil {
		s.logger.Warn("stream close notification failed", "stream_id", h.streamID, "error", err)
	}

	s.mu.Lock()
	delete(s.handles, h.streamID)
	s.mu.Unlock()

	s.logger.Debug("stream closed", "stream_id", h.streamID, "chunks", h.meta.ChunkCount)
	return nil
}

func (s *Streamer) notify(ctx context.Context, streamID string, env envelope) error {
	raw, err := s.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("substrate/stream: encode notification: %w", err)
	}
	return s.bus.Publish(ctx, s.topic(streamID), raw, nil)
}

// ──────────────────────────────────────────────────
// Consuming
// ──────────────────────────────────────────────────

// SubscribeOptions controls replay behaviour for Subscribe.
type SubscribeOptions struct {
	// FromSequence replays only chunks with a greater sequence. Zero
	// replays the full history.
	FromSequence int64
	// LiveOnly skips replay entirely.
	LiveOnly bool
}

// Subscription is a live consumer of one stream.
type Subscription struct {
	id       string
	streamID string
	streamer *Streamer
	busSub   pubsub.Subscription
	active   atomic.Bool

	mu      sync.Mutex
	lastSeq int64
}

// Active reports whether the subscription still delivers chunks.
func (sub *Subscription) Active() bool { return sub.active.Load() }

// StreamID returns the subscribed stream.
func (sub *Subscription) StreamID() string { return sub.streamID }

// Unsubscribe stops delivery. Safe to call more than once.
func (sub *Subscription) Unsubscribe() error {
	if !sub.active.CompareAndSwap(true, false) {
		return nil
	}
	sub.streamer.mu.Lock()
	delete(sub.streamer.subs, sub.id)
	sub.streamer.mu.Unlock()
	if sub.busSub != nil {
		return sub.busSub.Unsubscribe()
	}
	return nil
}

// Subscribe delivers a stream's chunks to h: first a replay of durable
// chunks past opts.FromSequence (unless LiveOnly), then live chunks as
// they are written. A sequence watermark suppresses duplicates across the
// replay/live boundary and out-of-order live deliveries. The closed
// sentinel is consumed internally and never reaches h.
func (s *Streamer) Subscribe(ctx context.Context, streamID string, h Handler, opts SubscribeOptions) (*Subscription, error) {
	sub := &Subscription{
		id:       id.NewSubscriptionID().String(),
		streamID: streamID,
		streamer: s,
		lastSeq:  opts.FromSequence,
	}
	sub.active.Store(true)

	if !opts.LiveOnly {
		chunks, err := s.GetChunks(ctx, streamID, opts.FromSequence)
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			h(chunk)
			sub.lastSeq = chunk.Sequence
		}
	}

	busSub, err := s.bus.Subscribe(ctx, s.topic(streamID), func(_ context.Context, bm *pubsub.Message) error {
		var env envelope
		if err := s.codec.Unmarshal(bm.Payload, &env); err != nil {
			s.logger.Error("dropping undecodable stream notification", "stream_id", streamID, "error", err)
			return nil
		}
		if env.Type != notifyChunk || env.Chunk == nil {
			return nil
		}
		if !sub.active.Load() {
			return nil
		}
		sub.mu.Lock()
		if env.Chunk.Sequence <= sub.lastSeq {
			sub.mu.Unlock()
			return nil
		}
		sub.lastSeq = env.Chunk.Sequence
		sub.mu.Unlock()
		h(env.Chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sub.busSub = busSub

	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
	return sub, nil
}

// GetChunks fetches durable chunks with sequence in (fromSequence,
// chunkCount], in ascending order. An unknown stream yields an empty slice.
func (s *Streamer) GetChunks(ctx context.Context, streamID string, fromSequence int64) ([]*Chunk, error) {
	meta, ok, err := s.GetMetadata(ctx, streamID)
	if err != nil || !ok {
		return nil, err
	}

	if fromSequence >= meta.ChunkCount {
		return []*Chunk{}, nil
	}

	chunks := make([]*Chunk, 0, meta.ChunkCount-fromSequence)
	for seq := fromSequence + 1; seq <= meta.ChunkCount; seq++ {
		var chunk Chunk
		ok, err := s.getRecord(ctx, chunkKey(streamID, seq), &chunk)
		if err != nil {
			return nil, err
		}
		if ok {
			chunks = append(chunks, &chunk)
		}
	}
	return chunks, nil
}

// DeleteStream removes every chunk, the metadata, and the counter, and
// drops any local handle. Returns ErrStreamNotFound when unknown.
func (s *Streamer) DeleteStream(ctx context.Context, streamID string) error {
	meta, ok, err := s.GetMetadata(ctx, streamID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("substrate/stream: delete %s: %w", streamID, substrate.ErrStreamNotFound)
	}

	for seq := int64(1); seq <= meta.ChunkCount; seq++ {
		if err := s.kv.Delete(ctx, s.namespace, chunkKey(streamID, seq)); err != nil {
			return err
		}
	}
	if err := s.kv.Delete(ctx, s.namespace, counterKey(streamID)); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, s.namespace, metaKey(streamID)); err != nil {
		return err
	}

	s.mu.Lock()
	if h, ok := s.handles[streamID]; ok {
		h.open.Store(false)
		delete(s.handles, streamID)
	}
	s.mu.Unlock()

	s.logger.Debug("stream deleted", "stream_id", streamID, "chunks", meta.ChunkCount)
	return nil
}

// Shutdown closes every locally-open handle and deactivates every local
// subscription. Other processes' subscriptions are unaffected.
func (s *Streamer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error { return h.Close(ctx) })
	}
	for _, sub := range subs {
		g.Go(func() error { return sub.Unsubscribe() })
	}
	return g.Wait()
}
