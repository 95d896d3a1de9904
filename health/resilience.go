package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/meshguard/resilience"
)

// BreakerChecker exposes a circuit breaker as a health check: closed is
// healthy, half-open is degraded (probing), open is unhealthy.
func BreakerChecker(name string, cb *resilience.CircuitBreaker) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		status := cb.Status()
		details := map[string]any{
			"state":                status.State.String(),
			"consecutive_failures": status.ConsecutiveFailures,
		}

		switch status.State {
		case resilience.StateClosed:
			return Healthy("circuit closed").WithDetails(details)
		case resilience.StateHalfOpen:
			return Degraded("circuit probing for recovery").WithDetails(details)
		default:
			details["next_attempt_at"] = status.NextAttemptAt
			return Unhealthy("circuit open", resilience.ErrCircuitOpen).WithDetails(details)
		}
	})
}

// BulkheadChecker exposes a bulkhead as a health check: a full wait queue is
// unhealthy, a saturated running set is degraded.
func BulkheadChecker(name string, b *resilience.Bulkhead) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		status := b.Status()
		details := map[string]any{
			"running":             status.Running,
			"queued":              status.Queued,
			"running_utilization": status.RunningUtilization,
			"queue_utilization":   status.QueueUtilization,
		}

		switch {
		case status.MaxQueueSize > 0 && status.Queued >= status.MaxQueueSize:
			return Unhealthy("bulkhead queue saturated", resilience.ErrQueueFull).WithDetails(details)
		case status.Running >= status.MaxConcurrent:
			return Degraded("bulkhead at max concurrency").WithDetails(details)
		default:
			return Healthy("bulkhead has capacity").WithDetails(details)
		}
	})
}

// RecoveryChecker exposes an AutoRecovery instance as a health check.
func RecoveryChecker(name string, r *resilience.AutoRecovery) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		status := r.Status()
		details := map[string]any{
			"state":                status.State.String(),
			"consecutive_failures": status.ConsecutiveFailures,
			"recovering":           status.Recovering,
		}

		switch status.State {
		case resilience.StateHealthy:
			return Healthy("dependency healthy").WithDetails(details)
		case resilience.StateFailed:
			return Unhealthy("dependency failed", nil).WithDetails(details)
		default:
			return Degraded("dependency " + status.State.String()).WithDetails(details)
		}
	})
}

// Probe adapts a Checker into an AutoRecovery health-check function. An
// unhealthy result becomes an error; degraded passes.
func Probe(c Checker) resilience.HealthCheckFunc {
	return func(ctx context.Context) error {
		result := c.Check(ctx)
		if result.Status != StatusUnhealthy {
			return nil
		}
		if result.Error != nil {
			return result.Error
		}
		if result.Message != "" {
			return fmt.Errorf("%s: %s", c.Name(), result.Message)
		}
		return errors.New(c.Name() + ": unhealthy")
	}
}
