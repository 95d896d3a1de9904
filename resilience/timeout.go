package resilience

import (
	"context"
	"time"
)

// runWithTimeout races op against a deadline. If the deadline fires first,
// timeoutErr is returned and the operation is abandoned: it keeps running in
// its goroutine until it returns, but nobody observes its result. Cleanup of
// resources held by an abandoned operation is the caller's responsibility.
//
// A zero or negative timeout runs op directly with no deadline.
func runWithTimeout(ctx context.Context, timeout time.Duration, timeoutErr error, op Operation) error {
	if timeout <= 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return timeoutErr
		}
		return ctx.Err()
	}
}
