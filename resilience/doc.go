// Package resilience provides composable fault-tolerance primitives for
// wrapping unreliable remote calls.
//
// The package implements three independent concurrent state machines that
// can be nested around any fallible operation:
//
//   - CircuitBreaker: per-dependency failure detector that fails fast once
//     consecutive failures cross a threshold, then probes for recovery after
//     a cooldown.
//
//   - Bulkhead: per-resource-class concurrency limiter with a bounded FIFO
//     wait queue, queue timeouts, and execution timeouts that start only
//     when a task leaves the queue.
//
//   - AutoRecovery: retry-with-backoff executor with an independent periodic
//     health monitor and an ordered registry of remediation strategies.
//
// # Composition
//
// Callers nest the primitives Bulkhead → CircuitBreaker → AutoRecovery →
// operation, either by hand or through Executor:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
//	        Name:          "orders-db",
//	        MaxConcurrent: 10,
//	        MaxQueueSize:  50,
//	    })),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	        Name:             "orders-db",
//	        FailureThreshold: 5,
//	        ResetTimeout:     30 * time.Second,
//	    })),
//	    resilience.WithRecovery(resilience.NewAutoRecovery(resilience.AutoRecoveryConfig{
//	        Name:       "orders-db",
//	        MaxRetries: 3,
//	    })),
//	)
//
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return callOrdersDB(ctx)
//	})
//
// Each layer observes only the outcome the next layer produces; no layer
// inspects another's internal state.
//
// # Concurrency
//
// Every instance serializes its own state behind a mutex held across state
// transitions, never across the protected call. Different instances share
// nothing and run fully concurrently.
//
// # Timeouts
//
// All timeouts are races between the operation and a timer. A fired timer
// surfaces a timeout error to the waiting caller but does not stop the
// underlying operation: the operation is abandoned, not killed, and cleanup
// of resources it holds is the caller's responsibility.
//
// # Observability
//
// Each component exposes a Status snapshot and a Subscribe method for
// event-stream consumers (state changes, queue activity, recovery outcomes,
// periodic metrics snapshots). Subscriptions end at Destroy.
package resilience
