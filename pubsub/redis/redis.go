// Package redis implements pubsub.Bus on Redis Pub/Sub. Metadata rides in
// a small JSON envelope alongside the payload. Redis Pub/Sub is fire-and-
// forget — a subscriber that is down misses messages — which matches the
// best-effort bus contract.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/substrate/pubsub"
)

// Compile-time interface check.
var _ pubsub.Bus = (*Bus)(nil)

// envelope is the wire form of a bus message.
type envelope struct {
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Bus is a Redis-backed pubsub.Bus. The caller owns the client lifecycle.
type Bus struct {
	client *goredis.Client
	logger *slog.Logger
}

// New creates a Redis-backed bus.
func New(client *goredis.Client, opts ...Option) *Bus {
	b := &Bus{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends a message to all current subscribers of topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte, metadata map[string]string) error {
	data, err := json.Marshal(envelope{Payload: payload, Metadata: metadata})
	if err != nil {
		return fmt.Errorf("substrate/pubsub/redis: marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("substrate/pubsub/redis: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for topic. Delivery runs on a dedicated
// goroutine until Unsubscribe is called or ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string, h pubsub.Handler) (pubsub.Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)

	// Force the subscription to be established before returning so a
	// Publish immediately after Subscribe is not silently missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close() //nolint:errcheck // best effort on failed subscribe
		return nil, fmt.Errorf("substrate/pubsub/redis: subscribe %s: %w", topic, err)
	}

	sub := &subscription{topic: topic, ps: ps}
	sub.active.Store(true)

	go func() {
		defer sub.active.Store(false)
		ch := ps.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.logger.Warn("pubsub envelope decode failed",
						slog.String("topic", topic),
						slog.String("error", err.Error()),
					)
					continue
				}
				msg := &pubsub.Message{Topic: topic, Payload: env.Payload, Metadata: env.Metadata}
				if err := h(ctx, msg); err != nil {
					b.logger.Warn("pubsub handler error",
						slog.String("topic", topic),
						slog.String("error", err.Error()),
					)
				}
			case <-ctx.Done():
				_ = ps.Close() //nolint:errcheck // shutting down
				return
			}
		}
	}()

	return sub, nil
}

type subscription struct {
	topic  string
	ps     *goredis.PubSub
	active atomic.Bool
}

// Unsubscribe implements pubsub.Subscription.
func (s *subscription) Unsubscribe() error {
	s.active.Store(false)
	return s.ps.Close()
}

// Topic implements pubsub.Subscription.
func (s *subscription) Topic() string { return s.topic }

// Active implements pubsub.Subscription.
func (s *subscription) Active() bool { return s.active.Load() }
