package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// RecoveryState represents the health state of an AutoRecovery instance.
type RecoveryState int

const (
	// StateHealthy means the dependency is operating normally.
	StateHealthy RecoveryState = iota
	// StateDegraded means at least one recent failure was observed.
	StateDegraded
	// StateRecovering means a recovery pass is in flight.
	StateRecovering
	// StateFailed means consecutive failures reached the failure threshold.
	StateFailed
)

// String returns the string representation of the state.
func (s RecoveryState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HealthCheckFunc probes the dependency. A nil return means healthy.
type HealthCheckFunc func(ctx context.Context) error

// OnRecoverFunc is an injected remediation callback invoked during a
// recovery pass with the triggering error.
type OnRecoverFunc func(ctx context.Context, cause error) error

// AutoRecoveryConfig configures an AutoRecovery instance.
type AutoRecoveryConfig struct {
	// Name identifies the protected dependency.
	Name string

	// MaxRetries is the number of retries after the initial attempt.
	// Default: 3
	MaxRetries int

	// InitialDelay is the backoff delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	// Default: 30 seconds
	MaxDelay time.Duration

	// BackoffMultiplier is the exponential backoff factor.
	// Default: 2.0
	BackoffMultiplier float64

	// HealthCheckInterval is the period of the health monitor. The monitor
	// runs only when HealthCheck is non-nil.
	// Default: 30 seconds
	HealthCheckInterval time.Duration

	// FailureThreshold is the consecutive-failure count that marks the
	// dependency failed and starts outage tracking.
	// Default: 5
	FailureThreshold int

	// RecoveryThreshold is the consecutive-success count required to return
	// to healthy.
	// Default: 3
	RecoveryThreshold int

	// HealthCheck is the optional injected health probe.
	HealthCheck HealthCheckFunc

	// OnRecover is the optional injected remediation callback. When set it
	// is registered as the "on-recover" strategy.
	OnRecover OnRecoverFunc
}

// AutoRecovery retries failing operations with exponential backoff, tracks
// dependency health, and drives remediation strategies when failures
// accumulate. The retry path and the periodic health monitor share one state
// machine.
type AutoRecovery struct {
	config AutoRecoveryConfig

	mu              sync.Mutex
	state           RecoveryState
	consecFailures  int
	consecSuccesses int
	recovering      bool
	strategies      []RecoveryStrategy

	totalFailures   int64
	totalRecoveries int64
	totalRetries    int64
	healthPasses    int64
	healthFailures  int64
	recoveryTime    ewma
	longestOutage   time.Duration
	outageStart     time.Time // zero when no outage is in progress
	history         *stateHistory

	listeners listenerSet
	done      chan struct{}
	stopOnce  sync.Once
}

// AutoRecoveryMetrics contains recovery statistics.
type AutoRecoveryMetrics struct {
	TotalFailures       int64
	TotalRecoveries     int64
	TotalRetries        int64
	HealthCheckPasses   int64
	HealthCheckFailures int64
	MeanRecoveryTime    time.Duration
	LongestOutage       time.Duration
	OutageStart         time.Time // zero when no outage is in progress
	History             []StateChange
}

// AutoRecoveryStatus is a point-in-time snapshot of an AutoRecovery.
type AutoRecoveryStatus struct {
	Name                 string
	State                RecoveryState
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	Recovering           bool
	Metrics              AutoRecoveryMetrics
}

// NewAutoRecovery creates a new AutoRecovery instance. The health monitor
// starts only if a health check was supplied.
func NewAutoRecovery(config AutoRecoveryConfig) *AutoRecovery {
	// Apply defaults
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 30 * time.Second
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = 3
	}

	r := &AutoRecovery{
		config:       config,
		state:        StateHealthy,
		recoveryTime: newEWMA(0.1),
		history:      newStateHistory(),
		done:         make(chan struct{}),
	}

	r.strategies = []RecoveryStrategy{
		NewStrategyFunc("retry-delay", r.retryDelayStrategy),
	}
	if config.OnRecover != nil {
		r.strategies = append(r.strategies,
			NewStrategyFunc("on-recover", func(ctx context.Context, cause error) error {
				return config.OnRecover(ctx, cause)
			}))
	}
	r.strategies = append(r.strategies,
		NewStrategyFunc("force-degrade", r.forceDegradeStrategy))

	if config.HealthCheck != nil {
		go r.healthMonitor()
	}

	return r
}

// ExecuteWithRecovery runs the operation, retrying with exponential backoff
// and jitter on failure. When retries are exhausted the last underlying
// error is returned unchanged and a recovery pass is triggered
// asynchronously; the caller does not wait for remediation.
func (r *AutoRecovery) ExecuteWithRecovery(ctx context.Context, op Operation) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxRetries+1; attempt++ {
		err := op(ctx)
		if err == nil {
			r.recordSuccess(attempt)
			return nil
		}
		lastErr = err

		if attempt > r.config.MaxRetries {
			break
		}

		r.mu.Lock()
		r.totalRetries++
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoffDelay(attempt)):
		}
	}

	r.recordFailure(lastErr)
	go r.attemptRecovery(lastErr)
	return lastErr
}

// backoffDelay computes the delay before retry number attempt, capped at
// MaxDelay, with up to 10% additive jitter. Jitter only ever adds time.
func (r *AutoRecovery) backoffDelay(attempt int) time.Duration {
	factor := math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	delay := time.Duration(float64(r.config.InitialDelay) * factor)
	if delay > r.config.MaxDelay || delay <= 0 {
		delay = r.config.MaxDelay
	}

	// #nosec G404 -- jitter is non-cryptographic timing variance.
	jitter := time.Duration(rand.Int64N(int64(delay/10) + 1))
	return delay + jitter
}

// recordSuccess applies a successful outcome to the state machine. attempts
// is the number of invocations the success took; anything above one counts
// as a recovery.
func (r *AutoRecovery) recordSuccess(attempts int) {
	r.mu.Lock()
	var events []Event

	recovered := attempts > 1
	r.consecFailures = 0
	r.consecSuccesses++

	if r.state != StateHealthy && r.consecSuccesses >= r.config.RecoveryThreshold {
		events = append(events, r.transitionLocked(StateHealthy, "recovery threshold reached"))
		recovered = recovered || !r.outageStart.IsZero()
	}

	if recovered {
		r.totalRecoveries++
		if !r.outageStart.IsZero() {
			outage := time.Since(r.outageStart)
			r.recoveryTime.observe(float64(outage))
			if outage > r.longestOutage {
				r.longestOutage = outage
			}
			r.outageStart = time.Time{}
		}
		events = append(events, Event{
			Type:   EventRecoverySucceeded,
			Source: r.config.Name,
			Time:   time.Now(),
			Data:   attempts,
		})
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.listeners.emit(ev)
	}
}

// recordFailure applies a failed outcome to the state machine. Reaching the
// failure threshold marks the dependency failed, starts outage tracking, and
// triggers a recovery pass.
func (r *AutoRecovery) recordFailure(cause error) {
	r.mu.Lock()
	var events []Event

	r.totalFailures++
	r.consecFailures++
	r.consecSuccesses = 0

	failed := r.consecFailures >= r.config.FailureThreshold
	if failed {
		if r.outageStart.IsZero() {
			r.outageStart = time.Now()
		}
		if r.state != StateFailed {
			events = append(events, r.transitionLocked(StateFailed, "failure threshold reached"))
		}
	} else if r.state == StateHealthy {
		// A single failure is enough to leave healthy.
		ev := r.transitionLocked(StateDegraded, "failure while healthy")
		events = append(events, ev, Event{
			Type:   EventDegraded,
			Source: r.config.Name,
			Time:   ev.Time,
			Err:    cause,
		})
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.listeners.emit(ev)
	}

	if failed {
		go r.attemptRecovery(cause)
	}
}

// attemptRecovery walks the strategy registry in registration order, stopping
// at the first strategy that succeeds. At most one pass runs at a time;
// re-entrant triggers are ignored. The in-flight guard is cleared even if a
// strategy panics.
func (r *AutoRecovery) attemptRecovery(cause error) {
	r.mu.Lock()
	if r.recovering {
		r.mu.Unlock()
		return
	}
	r.recovering = true
	ev := r.transitionLocked(StateRecovering, "recovery pass started")
	strategies := make([]RecoveryStrategy, len(r.strategies))
	copy(strategies, r.strategies)
	r.mu.Unlock()
	r.listeners.emit(ev)

	defer func() {
		r.mu.Lock()
		r.recovering = false
		r.mu.Unlock()
	}()

	ctx := context.Background()
	for _, s := range strategies {
		if err := s.Execute(ctx, cause); err != nil {
			r.listeners.emit(Event{
				Type:   EventRecoveryFailed,
				Source: r.config.Name,
				Time:   time.Now(),
				Err:    err,
				Data:   s.Name(),
			})
			continue
		}
		r.listeners.emit(Event{
			Type:   EventRecoverySucceeded,
			Source: r.config.Name,
			Time:   time.Now(),
			Data:   s.Name(),
		})
		return
	}
}

// retryDelayStrategy waits one backoff period and verifies the dependency
// via the health probe. Without a probe there is nothing to verify, so it
// reports failure and the pass moves to the next strategy.
func (r *AutoRecovery) retryDelayStrategy(ctx context.Context, cause error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.config.InitialDelay):
	}

	if r.config.HealthCheck == nil {
		return fmt.Errorf("retry-delay: no health check to verify recovery from %w", cause)
	}
	return r.runHealthCheck(ctx)
}

// forceDegradeStrategy is the terminal fallback: it parks the instance in
// degraded so callers keep getting service while the dependency is sick.
func (r *AutoRecovery) forceDegradeStrategy(ctx context.Context, cause error) error {
	r.mu.Lock()
	var events []Event
	if r.state != StateDegraded {
		ev := r.transitionLocked(StateDegraded, "forced degrade")
		events = append(events, ev, Event{
			Type:   EventDegraded,
			Source: r.config.Name,
			Time:   ev.Time,
			Err:    cause,
		})
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.listeners.emit(ev)
	}
	return nil
}

// RegisterStrategy adds a remediation strategy to the registry. Strategies
// run in registration order, ahead of the terminal force-degrade fallback,
// which would otherwise short-circuit them.
func (r *AutoRecovery) RegisterStrategy(s RecoveryStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := len(r.strategies) - 1
	r.strategies = append(r.strategies[:i], s, r.strategies[i])
}

// StrategyNames returns the registered strategy names in execution order.
func (r *AutoRecovery) StrategyNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// healthMonitor probes the dependency on a fixed interval. Outcomes feed the
// same state machine as ExecuteWithRecovery.
func (r *AutoRecovery) healthMonitor() {
	ticker := time.NewTicker(r.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := r.runHealthCheck(context.Background())

			r.mu.Lock()
			if err != nil {
				r.healthFailures++
			} else {
				r.healthPasses++
			}
			r.mu.Unlock()

			r.listeners.emit(Event{
				Type:   EventHealthCheck,
				Source: r.config.Name,
				Time:   time.Now(),
				Err:    err,
			})

			if err != nil {
				r.recordFailure(err)
			} else {
				r.recordSuccess(1)
			}
		case <-r.done:
			return
		}
	}
}

// runHealthCheck invokes the probe, converting a panic into a failure.
func (r *AutoRecovery) runHealthCheck(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: probe panicked: %v", ErrHealthCheck, p)
		}
	}()

	if hcErr := r.config.HealthCheck(ctx); hcErr != nil {
		if errors.Is(hcErr, ErrHealthCheck) {
			return hcErr
		}
		return fmt.Errorf("%w: %w", ErrHealthCheck, hcErr)
	}
	return nil
}

// State returns the current recovery state.
func (r *AutoRecovery) State() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns a snapshot of state, counters, and metrics.
func (r *AutoRecovery) Status() AutoRecoveryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return AutoRecoveryStatus{
		Name:                 r.config.Name,
		State:                r.state,
		ConsecutiveFailures:  r.consecFailures,
		ConsecutiveSuccesses: r.consecSuccesses,
		Recovering:           r.recovering,
		Metrics:              r.metricsLocked(),
	}
}

// Metrics returns a copy of the recovery metrics.
func (r *AutoRecovery) Metrics() AutoRecoveryMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metricsLocked()
}

func (r *AutoRecovery) metricsLocked() AutoRecoveryMetrics {
	return AutoRecoveryMetrics{
		TotalFailures:       r.totalFailures,
		TotalRecoveries:     r.totalRecoveries,
		TotalRetries:        r.totalRetries,
		HealthCheckPasses:   r.healthPasses,
		HealthCheckFailures: r.healthFailures,
		MeanRecoveryTime:    time.Duration(r.recoveryTime.get()),
		LongestOutage:       r.longestOutage,
		OutageStart:         r.outageStart,
		History:             r.history.snapshot(),
	}
}

// Subscribe registers a listener for this instance's events and returns a
// cancel func that removes it.
func (r *AutoRecovery) Subscribe(fn func(Event)) func() {
	return r.listeners.subscribe(fn)
}

// Reset zeroes the counters, clears the in-flight guard and outage tracking,
// and forces the state back to healthy. Timers keep running.
func (r *AutoRecovery) Reset() {
	r.mu.Lock()
	r.consecFailures = 0
	r.consecSuccesses = 0
	r.recovering = false
	r.outageStart = time.Time{}
	var ev Event
	emit := r.state != StateHealthy
	if emit {
		ev = r.transitionLocked(StateHealthy, "manual reset")
	}
	r.mu.Unlock()

	if emit {
		r.listeners.emit(ev)
	}
}

// Destroy cancels the health monitor and drops all listeners.
func (r *AutoRecovery) Destroy() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.listeners.clear()
}

func (r *AutoRecovery) transitionLocked(to RecoveryState, reason string) Event {
	from := r.state
	r.state = to
	change := StateChange{From: from.String(), To: to.String(), Time: time.Now(), Reason: reason}
	r.history.append(change)

	return Event{
		Type:   EventStateChanged,
		Source: r.config.Name,
		Time:   change.Time,
		From:   change.From,
		To:     change.To,
	}
}
