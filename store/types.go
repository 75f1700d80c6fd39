package store

import "time"

// RunStatus represents the lifecycle state of a workflow run.
// Transitions: pending → running → {completed, failed, cancelled}.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents a single workflow execution. The ID is caller-supplied.
type Run struct {
	ID         string            `json:"id" msgpack:"id"`
	WorkflowID string            `json:"workflow_id" msgpack:"workflow_id"`
	Status     RunStatus         `json:"status" msgpack:"status"`
	Input      []byte            `json:"input,omitempty" msgpack:"input,omitempty"`
	Output     []byte            `json:"output,omitempty" msgpack:"output,omitempty"`
	Error      string            `json:"error,omitempty" msgpack:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at" msgpack:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" msgpack:"updated_at"`
}

// RunUpdate is a partial update for a run. Nil fields are left untouched.
type RunUpdate struct {
	Status   *RunStatus
	Input    []byte
	Output   []byte
	Error    *string
	Metadata map[string]string
}

// StepStatus represents the lifecycle state of a step.
// Transitions: pending → running → {completed, failed, skipped}.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Step represents one retryable unit of work inside a run. Attempts is
// incremented by the caller on each retry, not by this package.
type Step struct {
	ID        string     `json:"id" msgpack:"id"`
	RunID     string     `json:"run_id" msgpack:"run_id"`
	StepName  string     `json:"step_name" msgpack:"step_name"`
	Status    StepStatus `json:"status" msgpack:"status"`
	Attempts  int        `json:"attempts" msgpack:"attempts"`
	Input     []byte     `json:"input,omitempty" msgpack:"input,omitempty"`
	Output    []byte     `json:"output,omitempty" msgpack:"output,omitempty"`
	Error     string     `json:"error,omitempty" msgpack:"error,omitempty"`
	CacheKey  string     `json:"cache_key,omitempty" msgpack:"cache_key,omitempty"`
	CreatedAt time.Time  `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" msgpack:"updated_at"`
}

// StepUpdate is a partial update for a step. Nil fields are left untouched.
type StepUpdate struct {
	Status   *StepStatus
	Attempts *int
	Input    []byte
	Output   []byte
	Error    *string
	CacheKey *string
}

// Event is an immutable fact about a run. Sequence is 1-based, strictly
// increasing per run with no gaps; events are never mutated or reordered.
type Event struct {
	ID        string    `json:"id" msgpack:"id"`
	RunID     string    `json:"run_id" msgpack:"run_id"`
	Type      string    `json:"type" msgpack:"type"`
	Data      []byte    `json:"data,omitempty" msgpack:"data,omitempty"`
	Sequence  int64     `json:"sequence" msgpack:"sequence"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Hook is a durable token representing a pending external callback into a
// run or step. It is mutated once, on invocation.
type Hook struct {
	Token       string     `json:"token" msgpack:"token"`
	RunID       string     `json:"run_id" msgpack:"run_id"`
	StepID      string     `json:"step_id,omitempty" msgpack:"step_id,omitempty"`
	CallbackURL string     `json:"callback_url,omitempty" msgpack:"callback_url,omitempty"`
	Invoked     bool       `json:"invoked" msgpack:"invoked"`
	Payload     []byte     `json:"payload,omitempty" msgpack:"payload,omitempty"`
	CreatedAt   time.Time  `json:"created_at" msgpack:"created_at"`
	InvokedAt   *time.Time `json:"invoked_at,omitempty" msgpack:"invoked_at,omitempty"`
}

// HookUpdate is a partial update for a hook. Nil fields are left untouched.
type HookUpdate struct {
	Invoked     *bool
	Payload     []byte
	CallbackURL *string
}

// CacheRef is the value of a cache-key mapping: the step that produced the
// memoized result.
type CacheRef struct {
	RunID  string `json:"run_id" msgpack:"run_id"`
	StepID string `json:"step_id" msgpack:"step_id"`
}

// ListRunsOpts controls filtering and pagination for ListRuns.
type ListRunsOpts struct {
	// WorkflowID filters by workflow definition. Empty means all.
	WorkflowID string
	// Status filters by run status. Empty means all states.
	Status RunStatus
	// Limit is the page size. Zero or negative means DefaultListLimit.
	Limit int
	// Cursor is the opaque position returned by a previous page.
	Cursor string
}

// RunPage is one page of ListRuns results. Filters apply only within the
// fetched page: the cursor advances by Limit over the unfiltered index, so
// a page can hold fewer than Limit matches while more exist later.
type RunPage struct {
	Runs       []*Run
	NextCursor string
	HasMore    bool
}

// DefaultListLimit is the page size used when ListRunsOpts.Limit is unset.
const DefaultListLimit = 50
