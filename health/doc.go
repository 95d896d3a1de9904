// Package health exposes the state of resilience components as health
// checks and serves the usual HTTP probe endpoints.
//
// A Checker reports the health of one component. Adapters turn the
// resilience primitives into Checkers (a closed breaker is healthy, an open
// one is not), and Probe goes the other way, feeding any Checker into an
// AutoRecovery instance as its injected health probe.
//
//	agg := health.NewAggregator()
//	agg.Register("orders-db", health.BreakerChecker("orders-db", breaker))
//	agg.Register("orders-pool", health.BulkheadChecker("orders-pool", bulkhead))
//
//	http.Handle("/healthz", health.LivenessHandler())
//	http.Handle("/readyz", health.ReadinessHandler(agg))
//	http.Handle("/health", health.DetailedHandler(agg))
package health
