// Package pubsub defines the publish/subscribe capability substrate's
// queue and stream subsystems are built on. Delivery is at-least-once and
// unordered across subscribers; there is no built-in delay or visibility —
// the queue package layers those on top.
package pubsub

import "context"

// Message is the envelope delivered to subscribers.
type Message struct {
	// Topic is the channel this message was published on.
	Topic string `json:"topic" msgpack:"topic"`

	// Payload is the opaque message body.
	Payload []byte `json:"payload" msgpack:"payload"`

	// Metadata carries optional out-of-band attributes.
	Metadata map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// Handler processes one inbound message. A returned error is logged by the
// bus; it never stops the subscription.
type Handler func(ctx context.Context, msg *Message) error

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	// Unsubscribe stops delivery to this subscription. Backends may keep
	// delivering briefly after return; handlers must tolerate that.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string

	// Active reports whether the subscription still receives messages.
	Active() bool
}

// Bus is the pub/sub capability contract.
type Bus interface {
	// Publish sends a message to all current subscribers of topic.
	// Best-effort: a subscriber with a full buffer may miss it.
	Publish(ctx context.Context, topic string, payload []byte, metadata map[string]string) error

	// Subscribe registers a handler for topic. The context bounds the
	// subscription's lifetime: when it is cancelled, delivery stops.
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
}
