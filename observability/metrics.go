package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/xraph/substrate"

// Metrics records system-wide lifecycle counters via an OTel Meter.
// All methods are safe on a nil receiver (no-op).
type Metrics struct {
	runsCreated    metric.Int64Counter
	eventsAppended metric.Int64Counter
	hooksCreated   metric.Int64Counter

	messagesSent         metric.Int64Counter
	messagesAcked        metric.Int64Counter
	messagesRetried      metric.Int64Counter
	messagesDeadLettered metric.Int64Counter

	chunksWritten metric.Int64Counter
}

// NewMetrics creates a Metrics using the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates a Metrics from the given MeterProvider.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.runsCreated, "substrate.store.runs_created", "Workflow runs created"},
		{&m.eventsAppended, "substrate.store.events_appended", "Workflow events appended"},
		{&m.hooksCreated, "substrate.store.hooks_created", "Hooks registered"},
		{&m.messagesSent, "substrate.queue.messages_sent", "Queue messages sent"},
		{&m.messagesAcked, "substrate.queue.messages_acked", "Queue messages acknowledged"},
		{&m.messagesRetried, "substrate.queue.messages_retried", "Queue messages requeued for retry"},
		{&m.messagesDeadLettered, "substrate.queue.messages_dead_lettered", "Queue messages routed to a DLQ"},
		{&m.chunksWritten, "substrate.stream.chunks_written", "Stream chunks written"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("substrate/observability: create counter %s: %w", c.name, err)
		}
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RunCreated records a workflow run creation.
func (m *Metrics) RunCreated(ctx context.Context, workflowID string) {
	if m == nil {
		return
	}
	m.add(ctx, m.runsCreated, attribute.String("workflow_id", workflowID))
}

// EventAppended records a workflow event append.
func (m *Metrics) EventAppended(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.eventsAppended)
}

// HookCreated records a hook registration.
func (m *Metrics) HookCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.hooksCreated)
}

// MessageSent records a queue send.
func (m *Metrics) MessageSent(ctx context.Context, queue string) {
	if m == nil {
		return
	}
	m.add(ctx, m.messagesSent, attribute.String("queue", queue))
}

// MessageAcked records a queue acknowledgment.
func (m *Metrics) MessageAcked(ctx context.Context, queue string) {
	if m == nil {
		return
	}
	m.add(ctx, m.messagesAcked, attribute.String("queue", queue))
}

// MessageRetried records a requeue after handler failure.
func (m *Metrics) MessageRetried(ctx context.Context, queue string) {
	if m == nil {
		return
	}
	m.add(ctx, m.messagesRetried, attribute.String("queue", queue))
}

// MessageDeadLettered records a routing to the dead-letter topic.
func (m *Metrics) MessageDeadLettered(ctx context.Context, queue, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.messagesDeadLettered,
		attribute.String("queue", queue),
		attribute.String("reason", reason),
	)
}

// ChunkWritten records a stream chunk write.
func (m *Metrics) ChunkWritten(ctx context.Context, streamID string) {
	if m == nil {
		return
	}
	m.add(ctx, m.chunksWritten, attribute.String("stream_id", streamID))
}
