package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open and the
	// call is rejected without being invoked.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrCallTimeout is returned when a call wrapped by a circuit breaker
	// exceeds its call timeout.
	ErrCallTimeout = errors.New("resilience: call timed out")

	// ErrQueueFull is returned when a bulkhead rejects a submission because
	// both the running set and the wait queue are at capacity.
	ErrQueueFull = errors.New("resilience: bulkhead queue is full")

	// ErrQueueTimeout is returned when a queued task waits longer than the
	// bulkhead queue timeout for a free slot.
	ErrQueueTimeout = errors.New("resilience: timed out waiting in bulkhead queue")

	// ErrExecutionTimeout is returned when a bulkhead-run task exceeds its
	// execution timeout. The underlying operation is abandoned, not killed.
	ErrExecutionTimeout = errors.New("resilience: task execution timed out")

	// ErrQueueCleared is returned to queued tasks rejected by ClearQueue
	// or Destroy.
	ErrQueueCleared = errors.New("resilience: bulkhead queue cleared")

	// ErrBulkheadClosed is returned for submissions after Destroy.
	ErrBulkheadClosed = errors.New("resilience: bulkhead is destroyed")

	// ErrHealthCheck wraps failures of the injected health probe.
	ErrHealthCheck = errors.New("resilience: health check failed")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")
)
