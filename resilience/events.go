package resilience

import (
	"sync"
	"time"
)

// EventType identifies the kind of event emitted by a component.
type EventType string

// Event types emitted by the resilience components.
const (
	// EventStateChanged is emitted on every breaker or recovery state
	// transition. From and To carry the state names.
	EventStateChanged EventType = "state-changed"

	// EventCircuitOpened is emitted when a breaker trips open.
	EventCircuitOpened EventType = "circuit-opened"

	// EventTaskQueued is emitted when a bulkhead enqueues a task.
	EventTaskQueued EventType = "task-queued"

	// EventTaskStarted is emitted when a bulkhead task begins running.
	EventTaskStarted EventType = "task-started"

	// EventTaskCompleted is emitted when a bulkhead task succeeds.
	EventTaskCompleted EventType = "task-completed"

	// EventTaskFailed is emitted when a bulkhead task fails or times out.
	EventTaskFailed EventType = "task-failed"

	// EventTaskRejected is emitted when a bulkhead rejects a task at
	// submission, on queue timeout, or on queue clear.
	EventTaskRejected EventType = "task-rejected"

	// EventDegraded is emitted when a recovery instance leaves HEALTHY.
	EventDegraded EventType = "degraded"

	// EventRecoverySucceeded is emitted when a recovery pass completes or a
	// previously failing operation succeeds again.
	EventRecoverySucceeded EventType = "recovery-succeeded"

	// EventRecoveryFailed is emitted when a recovery strategy fails or
	// retries are exhausted.
	EventRecoveryFailed EventType = "recovery-failed"

	// EventHealthCheck is emitted after each health probe.
	EventHealthCheck EventType = "health-check"

	// EventMetricsSnapshot is emitted on the monitoring interval; Data
	// holds a copy of the component's metrics.
	EventMetricsSnapshot EventType = "metrics-snapshot"
)

// Event is a notification emitted by a resilience component. Listeners
// receive copies; events never expose mutable internal state.
type Event struct {
	Type   EventType
	Source string // component name
	Time   time.Time
	From   string // previous state, for state transitions
	To     string // new state, for state transitions
	Err    error  // the triggering error, if any
	Task   *TaskSnapshot
	Data   any // event-specific payload (metrics snapshots, etc.)
}

// listenerSet is the per-component listener registry. Each component owns
// one; subscriptions do not outlive Destroy.
type listenerSet struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

// subscribe registers fn and returns a cancel func that removes it.
func (l *listenerSet) subscribe(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]func(Event))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// emit delivers ev to all listeners. Listeners are copied under the lock
// and invoked outside it so a listener may subscribe or cancel re-entrantly.
func (l *listenerSet) emit(ev Event) {
	l.mu.Lock()
	fns := make([]func(Event), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// clear drops all listeners.
func (l *listenerSet) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = nil
}
