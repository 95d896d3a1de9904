package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed CircuitState = iota
	// StateOpen means the circuit is failing fast.
	StateOpen
	// StateHalfOpen means the circuit is probing whether the dependency
	// recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker. Fields are immutable
// after construction.
type CircuitBreakerConfig struct {
	// Name identifies the protected dependency.
	Name string

	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	// Default: 5
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before admitting a
	// recovery probe.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// CallTimeout bounds each wrapped call. A timed-out call counts as a
	// failure and returns ErrCallTimeout.
	// Default: 10 seconds
	CallTimeout time.Duration

	// MonitoringPeriod is the interval between metrics-snapshot events.
	// These are advisory only. Negative disables the snapshot ticker.
	// Default: 30 seconds
	MonitoringPeriod time.Duration
}

// CircuitBreaker wraps calls to a single dependency and fails fast once the
// dependency is deemed unhealthy. All state mutation is serialized under one
// mutex held only across transitions, never across the wrapped call.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	consecFailures   int
	consecSuccesses  int
	nextAttemptAt    time.Time // valid only while open
	requests         int64
	failures         int64
	successes        int64
	timeouts         int64
	opens            int64
	latency          ewma
	history          *stateHistory

	listeners listenerSet
	done      chan struct{}
	stopOnce  sync.Once
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	Requests    int64
	Failures    int64
	Successes   int64
	Timeouts    int64
	Opens       int64
	MeanLatency time.Duration
	History     []StateChange
}

// CircuitBreakerStatus is a point-in-time snapshot of a breaker.
type CircuitBreakerStatus struct {
	Name                 string
	State                CircuitState
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	NextAttemptAt        time.Time
	Metrics              CircuitBreakerMetrics
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}
	if config.MonitoringPeriod == 0 {
		config.MonitoringPeriod = 30 * time.Second
	}

	cb := &CircuitBreaker{
		config:  config,
		state:   StateClosed,
		latency: newEWMA(0.1),
		history: newStateHistory(),
		done:    make(chan struct{}),
	}

	if config.MonitoringPeriod > 0 {
		go cb.monitor()
	}

	return cb
}

// Execute runs the operation through the circuit breaker.
//
// While the circuit is open, Execute returns ErrCircuitOpen immediately and
// the operation is never invoked. Once the reset timeout elapses the circuit
// moves to half-open and callers probe the dependency; any number of
// concurrent probes are admitted, and the first success closes the circuit
// while any failure re-opens it.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	start := time.Now()
	err := runWithTimeout(ctx, cb.config.CallTimeout, ErrCallTimeout, op)
	cb.afterCall(err, time.Since(start))
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	cb.requests++

	if cb.state == StateOpen {
		if time.Now().Before(cb.nextAttemptAt) {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		// Reset timeout elapsed: admit this caller as a recovery probe.
		ev := cb.transitionLocked(StateHalfOpen, "reset timeout elapsed")
		cb.mu.Unlock()
		cb.emit(ev)
		return nil
	}

	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) afterCall(err error, latency time.Duration) {
	cb.mu.Lock()
	var events []Event

	if err != nil {
		cb.failures++
		if errors.Is(err, ErrCallTimeout) {
			cb.timeouts++
		}
		cb.consecFailures++
		cb.consecSuccesses = 0

		switch cb.state {
		case StateHalfOpen:
			// Probe failed: back to open for another cooldown.
			events = append(events, cb.tripLocked("recovery probe failed"))
		case StateClosed:
			if cb.consecFailures >= cb.config.FailureThreshold {
				events = append(events, cb.tripLocked("failure threshold reached"))
			}
		}
	} else {
		cb.successes++
		cb.latency.observe(float64(latency))
		cb.consecFailures = 0
		cb.consecSuccesses++

		if cb.state == StateHalfOpen {
			events = append(events, cb.transitionLocked(StateClosed, "recovery probe succeeded"))
		}
	}

	cb.mu.Unlock()
	for _, ev := range events {
		cb.emit(ev)
	}
}

// tripLocked opens the circuit and schedules the next probe window.
func (cb *CircuitBreaker) tripLocked(reason string) Event {
	cb.opens++
	cb.nextAttemptAt = time.Now().Add(cb.config.ResetTimeout)
	ev := cb.transitionLocked(StateOpen, reason)
	ev.Type = EventCircuitOpened
	return ev
}

// transitionLocked changes state, records history, and returns the event to
// emit once the lock is released. Consecutive successes reset on every
// transition.
func (cb *CircuitBreaker) transitionLocked(to CircuitState, reason string) Event {
	from := cb.state
	cb.state = to
	cb.consecSuccesses = 0
	change := StateChange{From: from.String(), To: to.String(), Time: time.Now(), Reason: reason}
	cb.history.append(change)

	return Event{
		Type:   EventStateChanged,
		Source: cb.config.Name,
		Time:   change.Time,
		From:   change.From,
		To:     change.To,
	}
}

func (cb *CircuitBreaker) emit(ev Event) {
	cb.listeners.emit(ev)
	if ev.Type == EventCircuitOpened {
		// Opened transitions are also observable as plain state changes.
		stateEv := ev
		stateEv.Type = EventStateChanged
		cb.listeners.emit(stateEv)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status returns a snapshot of the breaker's state, counters, and metrics.
func (cb *CircuitBreaker) Status() CircuitBreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStatus{
		Name:                 cb.config.Name,
		State:                cb.state,
		ConsecutiveFailures:  cb.consecFailures,
		ConsecutiveSuccesses: cb.consecSuccesses,
		NextAttemptAt:        cb.nextAttemptAt,
		Metrics:              cb.metricsLocked(),
	}
}

// Metrics returns a copy of the breaker's cumulative metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.metricsLocked()
}

func (cb *CircuitBreaker) metricsLocked() CircuitBreakerMetrics {
	return CircuitBreakerMetrics{
		Requests:    cb.requests,
		Failures:    cb.failures,
		Successes:   cb.successes,
		Timeouts:    cb.timeouts,
		Opens:       cb.opens,
		MeanLatency: time.Duration(cb.latency.get()),
		History:     cb.history.snapshot(),
	}
}

// Subscribe registers a listener for this breaker's events and returns a
// cancel func that removes it.
func (cb *CircuitBreaker) Subscribe(fn func(Event)) func() {
	return cb.listeners.subscribe(fn)
}

// Reset forces the circuit closed and zeroes the consecutive counters,
// independent of in-flight calls.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.consecFailures = 0
	cb.consecSuccesses = 0
	cb.nextAttemptAt = time.Time{}
	var ev Event
	emit := cb.state != StateClosed
	if emit {
		ev = cb.transitionLocked(StateClosed, "manual reset")
	}
	cb.mu.Unlock()

	if emit {
		cb.emit(ev)
	}
}

// Destroy stops the monitoring ticker and drops all listeners. In-flight
// calls are unaffected.
func (cb *CircuitBreaker) Destroy() {
	cb.stopOnce.Do(func() {
		close(cb.done)
	})
	cb.listeners.clear()
}

func (cb *CircuitBreaker) monitor() {
	ticker := time.NewTicker(cb.config.MonitoringPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cb.listeners.emit(Event{
				Type:   EventMetricsSnapshot,
				Source: cb.config.Name,
				Time:   time.Now(),
				Data:   cb.Metrics(),
			})
		case <-cb.done:
			return
		}
	}
}
