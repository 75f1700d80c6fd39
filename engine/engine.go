// Package engine wires the substrate subsystems together: the durable
// store, the message queue, and the streamer, all over one client's kv and
// pubsub capabilities.
//
// This package exists to break the import cycle: the root substrate package
// defines the sentinel errors (imported by store, queue, and stream) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/substrate"
	"github.com/xraph/substrate/backoff"
	"github.com/xraph/substrate/observability"
	"github.com/xraph/substrate/queue"
	"github.com/xraph/substrate/store"
	"github.com/xraph/substrate/stream"
)

// Engine bundles the three subsystems behind one lifecycle. Use Build to
// create one from a configured substrate.Client; the caller owns Start and
// Stop.
type Engine struct {
	client   *substrate.Client
	store    *store.Store
	queue    *queue.Queue
	streamer *stream.Streamer
	metrics  *observability.Metrics

	bo            backoff.Strategy
	meterProvider metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackoff sets the queue's retry delay strategy. Defaults to
// backoff.DefaultStrategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithMeterProvider sets the OpenTelemetry MeterProvider for subsystem
// metrics. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// Build assembles an Engine from a client. The client must already carry
// kv and pubsub capabilities.
func Build(c *substrate.Client, opts ...Option) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("substrate/engine: nil client")
	}

	e := &Engine{
		client: c,
		bo:     backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(e)
	}

	var err error
	if e.meterProvider != nil {
		e.metrics, err = observability.NewMetricsWithProvider(e.meterProvider)
	} else {
		e.metrics, err = observability.NewMetrics()
	}
	if err != nil {
		return nil, err
	}

	cfg := c.Config()
	logger := c.Logger()

	e.store = store.New(c.KV(),
		store.WithCodec(c.Codec()),
		store.WithLogger(logger),
		store.WithMetrics(e.metrics),
		store.WithNamespace(cfg.Namespace),
		store.WithCASRetries(cfg.CASRetries),
	)
	e.queue = queue.New(c.Bus(),
		queue.WithCodec(c.Codec()),
		queue.WithLogger(logger),
		queue.WithMetrics(e.metrics),
		queue.WithBackoff(e.bo),
		queue.WithPrefix(cfg.QueuePrefix),
		queue.WithDefaultMaxAttempts(cfg.DefaultMaxAttempts),
		queue.WithMaxVisibilityWait(cfg.MaxVisibilityWait),
	)
	e.streamer = stream.New(c.KV(), c.Bus(),
		stream.WithCodec(c.Codec()),
		stream.WithLogger(logger),
		stream.WithMetrics(e.metrics),
		stream.WithNamespace(cfg.Namespace),
		stream.WithPrefix(cfg.StreamPrefix),
	)
	return e, nil
}

// Store returns the durable store.
func (e *Engine) Store() *store.Store { return e.store }

// Queue returns the message queue.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Streamer returns the streamer.
func (e *Engine) Streamer() *stream.Streamer { return e.streamer }

// Client returns the underlying client.
func (e *Engine) Client() *substrate.Client { return e.client }

// Start brings the engine up: verifies backend connectivity and replays
// any write intents left behind by a crash.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.client.Start(ctx); err != nil {
		return err
	}
	recovered, err := e.store.RecoverIntents(ctx)
	if err != nil {
		return fmt.Errorf("substrate/engine: recover intents: %w", err)
	}
	if recovered > 0 {
		e.client.Logger().Info("recovered interrupted writes", "intents", recovered)
	}
	return nil
}

// Stop shuts the engine down: the queue stops consuming, the streamer
// closes local handles and subscriptions, then the client releases its
// backends.
func (e *Engine) Stop(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.queue.Close() })
	g.Go(func() error { return e.streamer.Shutdown(ctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	return e.client.Stop(ctx)
}
