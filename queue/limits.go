package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limits defines per-queue dequeue behaviour.
type Limits struct {
	// Name is the queue identifier.
	Name string

	// MaxConcurrency bounds how many messages from this queue may be
	// processed simultaneously by this consumer. Zero means unbounded.
	MaxConcurrency int

	// RateLimit is the maximum sustained messages per second this consumer
	// will accept from the queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	limits  Limits
	limiter *rate.Limiter
	active  int
}

// limitManager enforces per-queue rate limits and concurrency bounds for a
// consumer. It is safe for concurrent use.
type limitManager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

func newLimitManager() *limitManager {
	return &limitManager{queues: make(map[string]*queueState)}
}

func newQueueState(l Limits) *queueState {
	qs := &queueState{limits: l}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return qs
}

// set installs (or replaces) the limits for a queue, preserving the active
// count across reconfiguration.
func (m *limitManager) set(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newQueueState(l)
	if existing := m.queues[l.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[l.Name] = qs
}

// acquire checks the queue's rate limit and concurrency bound. When the
// message may proceed it increments the active counter and returns true;
// the caller must release when processing completes.
func (m *limitManager) acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return true
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	if qs.limits.MaxConcurrency > 0 && qs.active >= qs.limits.MaxConcurrency {
		return false
	}
	qs.active++
	return true
}

// release decrements the active count for the queue.
func (m *limitManager) release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// activeCount returns the number of messages currently being processed.
func (m *limitManager) activeCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
