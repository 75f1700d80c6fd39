package substrate

import "errors"

var (
	// Capability errors.
	ErrNoKV  = errors.New("substrate: no key-value store configured")
	ErrNoBus = errors.New("substrate: no pub/sub bus configured")

	// Not found errors.
	ErrRunNotFound    = errors.New("substrate: run not found")
	ErrStepNotFound   = errors.New("substrate: step not found")
	ErrHookNotFound   = errors.New("substrate: hook not found")
	ErrStreamNotFound = errors.New("substrate: stream not found")

	// Conflict errors.
	ErrStreamAlreadyOpen = errors.New("substrate: stream already open")
	ErrConflict          = errors.New("substrate: concurrent update conflict")

	// State errors.
	ErrStreamClosed      = errors.New("substrate: stream closed")
	ErrQueueClosed       = errors.New("substrate: queue closed")
	ErrMessageNotTracked = errors.New("substrate: message not tracked locally")
)
