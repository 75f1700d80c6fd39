// Package queue implements named message queues over the pubsub capability:
// at-least-once delivery with visibility delays, bounded per-queue
// concurrency, exponential-backoff retries, and dead-letter routing.
//
// Each queue maps to one bus topic (<prefix>-<name>); its dead-letter queue
// is the same topic with a -dlq suffix. Retry and visibility scheduling are
// client-side: a consumer that receives a message before its VisibleAt
// simply holds it locally until the delay elapses. Delivery tracking lives
// in consumer memory, so an unacked message survives a consumer crash only
// if the bus redelivers it.
package queue
