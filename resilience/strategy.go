package resilience

import "context"

// RecoveryStrategy is a named remediation action. Strategies run in
// registration order during a recovery pass; the first one to return nil
// ends the pass.
type RecoveryStrategy interface {
	// Name identifies the strategy in events and logs.
	Name() string

	// Execute attempts remediation for the triggering error.
	Execute(ctx context.Context, cause error) error
}

// StrategyFunc adapts an ordinary function into a RecoveryStrategy.
type StrategyFunc struct {
	name string
	fn   func(ctx context.Context, cause error) error
}

// NewStrategyFunc creates a RecoveryStrategy from a function.
func NewStrategyFunc(name string, fn func(ctx context.Context, cause error) error) *StrategyFunc {
	return &StrategyFunc{name: name, fn: fn}
}

// Name returns the strategy name.
func (s *StrategyFunc) Name() string {
	return s.name
}

// Execute invokes the wrapped function.
func (s *StrategyFunc) Execute(ctx context.Context, cause error) error {
	return s.fn(ctx, cause)
}
