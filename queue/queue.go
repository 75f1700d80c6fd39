package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/substrate"
	"github.com/xraph/substrate/backoff"
	"github.com/xraph/substrate/codec"
	"github.com/xraph/substrate/id"
	"github.com/xraph/substrate/observability"
	"github.com/xraph/substrate/pubsub"
)

// delivery is the consumer-local tracking record for one received message.
type delivery struct {
	msg      *Message
	queue    string
	inFlight bool
	timer    *time.Timer // pending visibility delay, nil once processing starts
}

// Queue provides named message queues over a pubsub bus. A single Queue
// value serves any number of queue names; one Subscribe per name.
type Queue struct {
	bus     pubsub.Bus
	codec   codec.Codec
	logger  *slog.Logger
	metrics *observability.Metrics
	bo      backoff.Strategy
	limits  *limitManager

	prefix             string
	defaultMaxAttempts int
	maxVisibilityWait  time.Duration

	mu      sync.Mutex
	tracked map[string]*delivery
	subs    map[string]pubsub.Subscription
	closed  bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithCodec sets the message codec. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(q *Queue) { q.codec = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithMetrics sets the delivery metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithBackoff sets the retry delay strategy. Defaults to
// backoff.DefaultStrategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(q *Queue) { q.bo = s }
}

// WithPrefix overrides the topic prefix. Defaults to "substrate-queue".
func WithPrefix(prefix string) Option {
	return func(q *Queue) { q.prefix = prefix }
}

// WithDefaultMaxAttempts sets the attempt budget used when Send does not
// specify one.
func WithDefaultMaxAttempts(n int) Option {
	return func(q *Queue) { q.defaultMaxAttempts = n }
}

// WithMaxVisibilityWait caps how long a consumer holds a delayed message
// before processing it anyway.
func WithMaxVisibilityWait(d time.Duration) Option {
	return func(q *Queue) { q.maxVisibilityWait = d }
}

// New creates a Queue over the given bus.
func New(bus pubsub.Bus, opts ...Option) *Queue {
	cfg := substrate.DefaultConfig()
	q := &Queue{
		bus:                bus,
		codec:              codec.Default(),
		logger:             slog.Default(),
		bo:                 backoff.DefaultStrategy(),
		limits:             newLimitManager(),
		prefix:             cfg.QueuePrefix,
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
		maxVisibilityWait:  cfg.MaxVisibilityWait,
		tracked:            make(map[string]*delivery),
		subs:               make(map[string]pubsub.Subscription),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// topic returns the bus topic backing a queue name.
func (q *Queue) topic(name string) string { return q.prefix + "-" + name }

// dlqTopic returns the dead-letter topic for a queue name.
func (q *Queue) dlqTopic(name string) string { return q.topic(name) + "-dlq" }

// ──────────────────────────────────────────────────
// Producing
// ──────────────────────────────────────────────────

// SendOption configures a single Send.
type SendOption func(*Message)

// WithDelay makes the message invisible to consumers for d.
func WithDelay(d time.Duration) SendOption {
	return func(m *Message) { m.VisibleAt = time.Now().UTC().Add(d) }
}

// WithMaxAttempts overrides the message's attempt budget.
func WithMaxAttempts(n int) SendOption {
	return func(m *Message) { m.MaxAttempts = n }
}

// WithMetadata attaches caller metadata to the message.
func WithMetadata(md map[string]string) SendOption {
	return func(m *Message) { m.Metadata = md }
}

// WithCorrelationID tags the message with a caller-side correlation id.
func WithCorrelationID(id string) SendOption {
	return func(m *Message) { m.CorrelationID = id }
}

// Send enqueues a payload on the named queue and returns the message as
// published, including its generated ID.
func (q *Queue) Send(ctx context.Context, queueName string, payload []byte, opts ...SendOption) (*Message, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("substrate/queue: send to %s: %w", queueName, substrate.ErrQueueClosed)
	}

	msg := &Message{
		ID:          id.NewMessageID().String(),
		Queue:       queueName,
		Payload:     payload,
		MaxAttempts: q.defaultMaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(msg)
	}

	if err := q.publish(ctx, q.topic(queueName), msg); err != nil {
		return nil, err
	}
	q.metrics.MessageSent(ctx, queueName)
	return msg, nil
}

func (q *Queue) publish(ctx context.Context, topic string, msg *Message) error {
	raw, err := q.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("substrate/queue: encode message %s: %w", msg.ID, err)
	}
	return q.bus.Publish(ctx, topic, raw, nil)
}

// ──────────────────────────────────────────────────
// Consuming
// ──────────────────────────────────────────────────

// DefaultVisibilityTimeout is how long a manually settled message may stay
// in flight before it is nacked back for redelivery.
const DefaultVisibilityTimeout = 30 * time.Second

// subOptions holds the per-subscription delivery settings.
type subOptions struct {
	limits            Limits
	autoAck           bool
	visibilityTimeout time.Duration
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subOptions)

// WithMaxConcurrency bounds simultaneous handler invocations for the
// queue. Defaults to 1; zero or negative means unbounded. Messages
// arriving while the bound is reached are dropped locally and rely on bus
// redelivery.
func WithMaxConcurrency(n int) SubscribeOption {
	return func(o *subOptions) { o.limits.MaxConcurrency = n }
}

// WithRateLimit bounds the sustained accept rate for the queue.
func WithRateLimit(perSecond float64, burst int) SubscribeOption {
	return func(o *subOptions) {
		o.limits.RateLimit = perSecond
		o.limits.RateBurst = burst
	}
}

// WithAutoAck controls implicit settlement. When disabled, a nil handler
// return leaves the message in flight and the caller settles it with Ack
// or Nack; the visibility timeout nacks it back if the caller never does.
// Handler errors and panics nack automatically either way.
func WithAutoAck(on bool) SubscribeOption {
	return func(o *subOptions) { o.autoAck = on }
}

// WithVisibilityTimeout sets how long a manually settled message may stay
// in flight. Only enforced when auto-ack is disabled; zero disables the
// timer entirely.
func WithVisibilityTimeout(d time.Duration) SubscribeOption {
	return func(o *subOptions) { o.visibilityTimeout = d }
}

// Subscribe starts consuming the named queue with h. One subscription per
// queue name per Queue value.
func (q *Queue) Subscribe(ctx context.Context, queueName string, h Handler, opts ...SubscribeOption) error {
	so := subOptions{
		limits:            Limits{Name: queueName, MaxConcurrency: 1},
		autoAck:           true,
		visibilityTimeout: DefaultVisibilityTimeout,
	}
	for _, opt := range opts {
		opt(&so)
	}
	limits := so.limits

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("substrate/queue: subscribe to %s: %w", queueName, substrate.ErrQueueClosed)
	}
	if _, ok := q.subs[queueName]; ok {
		q.mu.Unlock()
		return fmt.Errorf("substrate/queue: already subscribed to %s", queueName)
	}
	q.mu.Unlock()

	q.limits.set(limits)

	sub, err := q.bus.Subscribe(ctx, q.topic(queueName), func(ctx context.Context, bm *pubsub.Message) error {
		var msg Message
		if err := q.codec.Unmarshal(bm.Payload, &msg); err != nil {
			q.logger.Error("dropping undecodable message", "queue", queueName, "error", err)
			return nil
		}
		q.schedule(queueName, &msg, h, so)
		return nil
	})
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		_ = sub.Unsubscribe()
		return fmt.Errorf("substrate/queue: subscribe to %s: %w", queueName, substrate.ErrQueueClosed)
	}
	q.subs[queueName] = sub
	return nil
}

// schedule holds a message until its visibility instant, then processes it.
func (q *Queue) schedule(queueName string, msg *Message, h Handler, so subOptions) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	d := &delivery{msg: msg, queue: queueName}
	q.tracked[msg.ID] = d
	q.holdLocked(d, h, so)
}

// holdLocked arms the visibility timer for d. Waits longer than
// maxVisibilityWait are re-armed in capped increments when the timer fires,
// so a long delay never releases the message early. Callers hold q.mu.
func (q *Queue) holdLocked(d *delivery, h Handler, so subOptions) {
	delay := time.Until(d.msg.VisibleAt)
	if delay <= 0 {
		go q.process(d, h, so)
		return
	}
	if delay > q.maxVisibilityWait {
		delay = q.maxVisibilityWait
	}
	d.timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		if _, ok := q.tracked[d.msg.ID]; !ok {
			return
		}
		q.holdLocked(d, h, so)
	})
}

// process runs the handler for one delivery, translating the outcome into
// an ack or a nack unless the handler already settled the message itself.
func (q *Queue) process(d *delivery, h Handler, so subOptions) {
	msg := d.msg
	if !q.limits.acquire(d.queue) {
		q.mu.Lock()
		delete(q.tracked, msg.ID)
		q.mu.Unlock()
		q.logger.Warn("dropping message at concurrency limit", "queue", d.queue, "message_id", msg.ID)
		return
	}
	defer q.limits.release(d.queue)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	d.inFlight = true
	d.timer = nil
	q.mu.Unlock()

	ctx := context.Background()
	err := q.invoke(ctx, h, msg)

	q.mu.Lock()
	_, stillTracked := q.tracked[msg.ID]
	q.mu.Unlock()
	if !stillTracked {
		// Handler settled the message itself via Ack or Nack.
		return
	}
	if err != nil {
		q.logger.Warn("handler failed", "queue", d.queue, "message_id", msg.ID, "attempts", msg.Attempts, "error", err)
		if nerr := q.Nack(ctx, msg.ID, true); nerr != nil {
			q.logger.Error("nack failed", "queue", d.queue, "message_id", msg.ID, "error", nerr)
		}
		return
	}
	if !so.autoAck {
		// The caller settles explicitly; the visibility timer nacks the
		// message back for redelivery if it never does.
		if so.visibilityTimeout > 0 {
			time.AfterFunc(so.visibilityTimeout, func() { q.expire(msg.ID) })
		}
		return
	}
	if aerr := q.Ack(ctx, msg.ID); aerr != nil {
		q.logger.Error("ack failed", "queue", d.queue, "message_id", msg.ID, "error", aerr)
	}
}

// expire nacks a message whose visibility timeout elapsed without explicit
// settlement.
func (q *Queue) expire(messageID string) {
	q.mu.Lock()
	d, ok := q.tracked[messageID]
	q.mu.Unlock()
	if !ok || !d.inFlight {
		return
	}
	q.logger.Warn("visibility timeout expired", "queue", d.queue, "message_id", messageID)
	if err := q.Nack(context.Background(), messageID, true); err != nil {
		q.logger.Error("expiry nack failed", "queue", d.queue, "message_id", messageID, "error", err)
	}
}

// invoke calls the handler, converting a panic into an error.
func (q *Queue) invoke(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("substrate/queue: handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

// ──────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────

// Ack acknowledges a delivered message, removing it from local tracking.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	q.mu.Lock()
	d, ok := q.tracked[messageID]
	if ok {
		delete(q.tracked, messageID)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("substrate/queue: ack %s: %w", messageID, substrate.ErrMessageNotTracked)
	}

	q.metrics.MessageAcked(ctx, d.queue)
	return nil
}

// Nack records a failed delivery attempt. With requeue the message is
// republished after a backoff delay while attempts remain; otherwise, or
// once the attempt budget is spent, it is routed to the queue's DLQ.
func (q *Queue) Nack(ctx context.Context, messageID string, requeue bool) error {
	q.mu.Lock()
	d, ok := q.tracked[messageID]
	if ok {
		delete(q.tracked, messageID)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("substrate/queue: nack %s: %w", messageID, substrate.ErrMessageNotTracked)
	}

	msg := d.msg
	msg.Attempts++

	if !requeue {
		return q.deadLetter(ctx, d.queue, msg, ReasonNackNoRequeue)
	}
	if msg.Attempts >= msg.MaxAttempts {
		return q.deadLetter(ctx, d.queue, msg, ReasonMaxAttemptsExceeded)
	}

	msg.VisibleAt = time.Now().UTC().Add(q.bo.Delay(msg.Attempts))
	if err := q.publish(ctx, q.topic(d.queue), msg); err != nil {
		return err
	}
	q.metrics.MessageRetried(ctx, d.queue)
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, queueName string, msg *Message, reason string) error {
	now := time.Now().UTC()
	msg.Reason = reason
	msg.SentToDlqAt = &now
	if err := q.publish(ctx, q.dlqTopic(queueName), msg); err != nil {
		return err
	}
	q.metrics.MessageDeadLettered(ctx, queueName, reason)
	q.logger.Info("message dead-lettered", "queue", queueName, "message_id", msg.ID, "reason", reason)
	return nil
}

// ──────────────────────────────────────────────────
// Introspection and lifecycle
// ──────────────────────────────────────────────────

// Stats is a point-in-time snapshot of one queue at this consumer.
type Stats struct {
	// Pending counts messages held for a visibility delay.
	Pending int
	// InFlight counts messages currently being processed.
	InFlight int
}

// Stats reports local delivery state for the named queue.
func (q *Queue) Stats(queueName string) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var st Stats
	for _, d := range q.tracked {
		if d.queue != queueName {
			continue
		}
		if d.inFlight {
			st.InFlight++
		} else {
			st.Pending++
		}
	}
	return st
}

// Unsubscribe stops consuming the named queue. Messages already being
// processed run to completion.
func (q *Queue) Unsubscribe(queueName string) error {
	q.mu.Lock()
	sub, ok := q.subs[queueName]
	if ok {
		delete(q.subs, queueName)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Close stops all subscriptions, cancels pending visibility timers, and
// rejects further sends and subscribes with ErrQueueClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	subs := q.subs
	q.subs = make(map[string]pubsub.Subscription)
	for _, d := range q.tracked {
		if d.timer != nil {
			d.timer.Stop()
		}
	}
	q.tracked = make(map[string]*delivery)
	q.mu.Unlock()

	var firstErr error
	for name, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("substrate/queue: unsubscribe %s: %w", name, err)
		}
	}
	return firstErr
}
