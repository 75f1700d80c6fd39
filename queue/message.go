package queue

import (
	"context"
	"time"
)

// Dead-letter reasons recorded on messages routed to a DLQ.
const (
	ReasonMaxAttemptsExceeded = "max_attempts_exceeded"
	ReasonNackNoRequeue       = "nack_no_requeue"
)

// Message is the wire envelope for a queued message. Attempts counts
// completed delivery attempts; it is incremented on Nack, before the
// retry-or-dead-letter decision.
type Message struct {
	ID          string            `json:"id" msgpack:"id"`
	Queue       string            `json:"queue" msgpack:"queue"`
	Payload     []byte            `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	Attempts    int               `json:"attempts" msgpack:"attempts"`
	MaxAttempts int               `json:"max_attempts" msgpack:"max_attempts"`
	EnqueuedAt  time.Time         `json:"enqueued_at" msgpack:"enqueued_at"`

	// CorrelationID ties the message to a caller-side request or run.
	CorrelationID string `json:"correlation_id,omitempty" msgpack:"correlation_id,omitempty"`

	// VisibleAt delays delivery: consumers hold the message locally until
	// this instant. Zero means immediately visible.
	VisibleAt time.Time `json:"visible_at,omitempty" msgpack:"visible_at,omitempty"`

	// Reason and SentToDlqAt are set only on dead-lettered messages.
	Reason      string     `json:"reason,omitempty" msgpack:"reason,omitempty"`
	SentToDlqAt *time.Time `json:"sent_to_dlq_at,omitempty" msgpack:"sent_to_dlq_at,omitempty"`
}

// Handler processes one delivered message. A nil return acknowledges the
// message; an error (or a panic) negatively acknowledges it with requeue.
type Handler func(ctx context.Context, msg *Message) error
