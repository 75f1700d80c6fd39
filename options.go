package substrate

import (
	"context"
	"log/slog"

	"github.com/xraph/substrate/codec"
	"github.com/xraph/substrate/kv"
	"github.com/xraph/substrate/pubsub"
)

// Option configures a Client.
type Option func(*Client) error

// Client is the explicitly constructed context object holding the injected
// capabilities every subsystem shares. There is no process-wide singleton:
// callers create a Client, pass it to engine.Build, and own its lifecycle.
type Client struct {
	config Config
	logger *slog.Logger
	kv     kv.Store
	bus    pubsub.Bus
	codec  codec.Codec
}

// New creates a Client from the given options. A key-value store and a
// pub/sub bus are required.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		config: DefaultConfig(),
		logger: slog.Default(),
		codec:  codec.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.kv == nil {
		return nil, ErrNoKV
	}
	if c.bus == nil {
		return nil, ErrNoBus
	}
	return c, nil
}

// KV returns the injected key-value store.
func (c *Client) KV() kv.Store { return c.kv }

// Bus returns the injected pub/sub bus.
func (c *Client) Bus() pubsub.Bus { return c.bus }

// Codec returns the payload codec.
func (c *Client) Codec() codec.Codec { return c.codec }

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Config returns a copy of the client's configuration.
func (c *Client) Config() Config { return c.config }

// Start verifies the backing capabilities are reachable. Backends that do
// not implement kv.Pinger are assumed healthy.
func (c *Client) Start(ctx context.Context) error {
	if p, ok := c.kv.(kv.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop releases backend resources owned by the client. Backends without a
// Close method are left to their owners.
func (c *Client) Stop(_ context.Context) error {
	if cl, ok := c.kv.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}

// WithKV sets the key-value store capability.
func WithKV(s kv.Store) Option {
	return func(c *Client) error {
		c.kv = s
		return nil
	}
}

// WithBus sets the pub/sub bus capability.
func WithBus(b pubsub.Bus) Option {
	return func(c *Client) error {
		c.bus = b
		return nil
	}
}

// WithLogger sets the structured logger for the client and subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// WithCodec sets the payload codec used for durable records and bus
// envelopes. Defaults to JSON; codec.Msgpack is the compact alternative.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) error {
		c.codec = cd
		return nil
	}
}

// WithNamespace overrides the key-value namespace.
func WithNamespace(ns string) Option {
	return func(c *Client) error {
		c.config.Namespace = ns
		return nil
	}
}

// WithQueuePrefix overrides the queue topic prefix.
func WithQueuePrefix(prefix string) Option {
	return func(c *Client) error {
		c.config.QueuePrefix = prefix
		return nil
	}
}

// WithStreamPrefix overrides the stream topic prefix.
func WithStreamPrefix(prefix string) Option {
	return func(c *Client) error {
		c.config.StreamPrefix = prefix
		return nil
	}
}
