// Package memory provides an in-process pubsub.Bus. Each subscriber owns a
// buffered channel drained by its own goroutine, so a slow handler never
// blocks publishers — it drops once the buffer fills, matching the
// best-effort contract. Intended for unit testing and single-process
// deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xraph/substrate/pubsub"
)

// Compile-time interface check.
var _ pubsub.Bus = (*Bus)(nil)

// DefaultBufferSize is the default per-subscriber message buffer.
const DefaultBufferSize = 1024

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithBufferSize sets the per-subscriber message buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) { b.bufferSize = size }
}

// Bus is an in-memory topic fan-out.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscriber // topic → subID → subscriber

	logger     *slog.Logger
	bufferSize int

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:     make(map[string]map[string]*subscriber),
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends the message to every current subscriber of topic.
// A subscriber whose buffer is full misses the message.
func (b *Bus) Publish(_ context.Context, topic string, payload []byte, metadata map[string]string) error {
	msg := &pubsub.Message{Topic: topic, Payload: payload, Metadata: metadata}

	b.mu.RLock()
	subs := b.topics[topic]
	// Copy to avoid holding the lock during sends.
	targets := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if s.send(msg) {
			b.totalPublished.Add(1)
		} else {
			b.totalDropped.Add(1)
			b.logger.Warn("pubsub message dropped",
				slog.String("topic", topic),
				slog.String("subscriber", s.id),
			)
		}
	}
	return nil
}

// Subscribe registers a handler for topic. Delivery runs on a dedicated
// goroutine until Unsubscribe is called or ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string, h pubsub.Handler) (pubsub.Subscription, error) {
	s := &subscriber{
		id:      uuid.NewString(),
		topic:   topic,
		bus:     b,
		ch:      make(chan *pubsub.Message, b.bufferSize),
		done:    make(chan struct{}),
		handler: h,
	}
	s.active.Store(true)

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]*subscriber)
		b.topics[topic] = subs
	}
	subs[s.id] = s
	b.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

// SubscriberCount returns the number of subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Stats returns total delivered and dropped message counts.
func (b *Bus) Stats() (published, dropped int64) {
	return b.totalPublished.Load(), b.totalDropped.Load()
}

// remove detaches a subscriber from its topic, cleaning up empty topics.
func (b *Bus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[s.topic]
	if !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(b.topics, s.topic)
	}
}

// subscriber drains its buffered channel, invoking the handler for each
// message in order.
type subscriber struct {
	id      string
	topic   string
	bus     *Bus
	ch      chan *pubsub.Message
	done    chan struct{}
	handler pubsub.Handler
	active  atomic.Bool
	closeMu sync.Mutex
}

func (s *subscriber) run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.ch:
			if !ok {
				return
			}
			if err := s.handler(ctx, msg); err != nil {
				s.bus.logger.Warn("pubsub handler error",
					slog.String("topic", s.topic),
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			s.stop()
			return
		case <-s.done:
			return
		}
	}
}

// send attempts a non-blocking delivery. Returns false if the buffer is
// full or the subscription is no longer active.
func (s *subscriber) send(msg *pubsub.Message) bool {
	if !s.active.Load() {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) stop() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.bus.remove(s)
	close(s.done)
}

// Unsubscribe implements pubsub.Subscription.
func (s *subscriber) Unsubscribe() error {
	s.stop()
	return nil
}

// Topic implements pubsub.Subscription.
func (s *subscriber) Topic() string { return s.topic }

// Active implements pubsub.Subscription.
func (s *subscriber) Active() bool { return s.active.Load() }
