package resilience

import "context"

// Executor composes the resilience primitives around a protected operation.
//
// Nesting order is fixed: Bulkhead → CircuitBreaker → AutoRecovery →
// operation. Resource isolation is decided before failure accounting, which
// is decided before retries, so a queued task never burns breaker budget and
// a retried call re-enters neither the queue nor the breaker. Each layer
// observes only the outcome the next layer produces.
type Executor struct {
	rateLimiter *RateLimiter
	bulkhead    *Bulkhead
	breaker     *CircuitBreaker
	recovery    *AutoRecovery
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRateLimiter adds rate limiting outside the bulkhead.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.breaker = cb
	}
}

// WithRecovery adds retry-with-recovery to the executor.
func WithRecovery(r *AutoRecovery) ExecutorOption {
	return func(e *Executor) {
		e.recovery = r
	}
}

// Execute runs the operation through all configured layers.
func (e *Executor) Execute(ctx context.Context, op Operation) error {
	execute := op

	// Wrap with recovery (innermost around the operation)
	if e.recovery != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.recovery.ExecuteWithRecovery(ctx, inner)
		}
	}

	// Wrap with circuit breaker
	if e.breaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.breaker.Execute(ctx, inner)
		}
	}

	// Wrap with bulkhead
	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.bulkhead.Execute(ctx, inner)
		}
	}

	// Wrap with rate limiter (outermost)
	if e.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.rateLimiter.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}

// Destroy shuts down all owned components.
func (e *Executor) Destroy() {
	if e.bulkhead != nil {
		e.bulkhead.Destroy()
	}
	if e.breaker != nil {
		e.breaker.Destroy()
	}
	if e.recovery != nil {
		e.recovery.Destroy()
	}
}
