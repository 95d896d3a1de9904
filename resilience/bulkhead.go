package resilience

import (
	"context"
	"sync"
	"time"
)

// BulkheadConfig configures the bulkhead. Fields are immutable after
// construction.
type BulkheadConfig struct {
	// Name identifies the protected resource class.
	Name string

	// MaxConcurrent is the maximum number of tasks running at once.
	// Default: 10
	MaxConcurrent int

	// MaxQueueSize is the wait-queue capacity. Zero or negative disables
	// queueing: submissions beyond MaxConcurrent fail with ErrQueueFull.
	MaxQueueSize int

	// ExecutionTimeout bounds a task's running time. The clock starts when
	// the task leaves the queue, never while it waits. Zero or negative
	// disables the execution deadline.
	// Default: 30 seconds
	ExecutionTimeout time.Duration

	// QueueTimeout bounds how long a task may wait for a free slot before
	// being rejected with ErrQueueTimeout. Zero or negative disables it.
	// Default: 10 seconds
	QueueTimeout time.Duration

	// MonitoringPeriod is the interval between metrics-snapshot events.
	// Negative disables the snapshot ticker.
	// Default: 30 seconds
	MonitoringPeriod time.Duration
}

// Bulkhead isolates a resource class by bounding concurrent execution and
// queueing overflow in strict FIFO order. A task's execution deadline starts
// only when it begins running; queued tasks are governed by the queue
// timeout alone.
type Bulkhead struct {
	config BulkheadConfig

	mu      sync.Mutex
	running int
	queue   []*task
	closed  bool

	submitted int64
	completed int64
	failed    int64
	timedOut  int64
	rejected  int64
	execTime  ewma
	waitTime  ewma
	peakRun   int
	peakQueue int

	listeners listenerSet
	done      chan struct{}
	stopOnce  sync.Once
}

// BulkheadMetrics contains bulkhead statistics.
type BulkheadMetrics struct {
	Submitted     int64
	Completed     int64
	Failed        int64
	TimedOut      int64
	Rejected      int64
	MeanExecTime  time.Duration
	MeanWaitTime  time.Duration
	PeakRunning   int
	PeakQueueSize int
}

// BulkheadStatus is a point-in-time snapshot of a bulkhead.
type BulkheadStatus struct {
	Name          string
	Running       int
	Queued        int
	MaxConcurrent int
	MaxQueueSize  int
	// Utilization percentages in [0, 100].
	RunningUtilization float64
	QueueUtilization   float64
	Metrics            BulkheadMetrics
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	// Apply defaults
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.MaxQueueSize < 0 {
		config.MaxQueueSize = 0
	}
	if config.ExecutionTimeout == 0 {
		config.ExecutionTimeout = 30 * time.Second
	}
	if config.QueueTimeout == 0 {
		config.QueueTimeout = 10 * time.Second
	}
	if config.MonitoringPeriod == 0 {
		config.MonitoringPeriod = 30 * time.Second
	}

	b := &Bulkhead{
		config:   config,
		execTime: newEWMA(0.1),
		waitTime: newEWMA(0.1),
		done:     make(chan struct{}),
	}

	if config.MonitoringPeriod > 0 {
		go b.monitor()
	}

	return b
}

// Execute submits the operation and blocks until it completes, times out, or
// is rejected. If a slot is free the operation runs immediately; otherwise it
// waits in FIFO order behind earlier submissions.
func (b *Bulkhead) Execute(ctx context.Context, op Operation) error {
	t := newTask(op)
	t.ctx = ctx

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBulkheadClosed
	}
	b.submitted++

	if b.running < b.config.MaxConcurrent {
		b.startLocked(t)
		b.mu.Unlock()
		b.emitTask(EventTaskStarted, t, nil)
		return b.awaitRunning(t)
	}

	if len(b.queue) < b.config.MaxQueueSize {
		b.queue = append(b.queue, t)
		if len(b.queue) > b.peakQueue {
			b.peakQueue = len(b.queue)
		}
		if b.config.QueueTimeout > 0 {
			t.queueTimer = time.AfterFunc(b.config.QueueTimeout, func() { b.expire(t) })
		}
		b.mu.Unlock()
		b.emitTask(EventTaskQueued, t, nil)
		return b.awaitQueued(ctx, t)
	}

	b.rejected++
	t.status = TaskRejected
	b.mu.Unlock()
	b.emitTask(EventTaskRejected, t, ErrQueueFull)
	return ErrQueueFull
}

// startLocked promotes a task to the running set and launches its runner.
// Caller must hold b.mu and have verified a free slot.
func (b *Bulkhead) startLocked(t *task) {
	if t.queueTimer != nil {
		t.queueTimer.Stop()
	}
	t.status = TaskRunning
	t.startedAt = time.Now()
	b.waitTime.observe(float64(t.startedAt.Sub(t.submittedAt)))

	b.running++
	if b.running > b.peakRun {
		b.peakRun = b.running
	}

	close(t.started)
	go b.run(t)
}

// run executes the task's operation to completion. The slot is freed only
// when the operation returns, even if the waiting caller already gave up on
// an execution timeout.
func (b *Bulkhead) run(t *task) {
	err := t.op(t.ctx)
	b.finish(t, err)
	t.result <- err
}

func (b *Bulkhead) finish(t *task, err error) {
	b.mu.Lock()
	t.completedAt = time.Now()
	b.execTime.observe(float64(t.completedAt.Sub(t.startedAt)))

	// A task already marked timed-out was accounted for when its waiter
	// abandoned it.
	if t.status == TaskRunning {
		if err != nil {
			t.status = TaskFailed
			b.failed++
		} else {
			t.status = TaskCompleted
			b.completed++
		}
	}

	b.running--

	// Exactly one queued task is promoted per freed slot, FIFO.
	var next *task
	if len(b.queue) > 0 && !b.closed {
		next = b.queue[0]
		b.queue = b.queue[1:]
		b.startLocked(next)
	}
	b.mu.Unlock()

	if err != nil {
		b.emitTask(EventTaskFailed, t, err)
	} else {
		b.emitTask(EventTaskCompleted, t, nil)
	}
	if next != nil {
		b.emitTask(EventTaskStarted, next, nil)
	}
}

// awaitQueued blocks until the task is promoted, rejected, or the caller's
// context is cancelled.
func (b *Bulkhead) awaitQueued(ctx context.Context, t *task) error {
	select {
	case err := <-t.rejected:
		return err
	case <-t.started:
		return b.awaitRunning(t)
	case <-ctx.Done():
		if b.withdraw(t) {
			b.emitTask(EventTaskRejected, t, ctx.Err())
			return ctx.Err()
		}
		// The task already left the queue while we were cancelling: it was
		// either promoted or rejected (queue timeout, clear, destroy). Wait
		// on whichever outcome materialized; assuming promotion here would
		// strand the caller on a result that never comes.
		select {
		case err := <-t.rejected:
			return err
		case <-t.started:
			return b.awaitRunning(t)
		}
	}
}

// awaitRunning races the operation's result against the execution deadline.
// A fired deadline abandons the operation: the caller sees
// ErrExecutionTimeout while the slot stays held until the operation returns.
func (b *Bulkhead) awaitRunning(t *task) error {
	if b.config.ExecutionTimeout <= 0 {
		return <-t.result
	}

	timer := time.NewTimer(b.config.ExecutionTimeout)
	defer timer.Stop()

	select {
	case err := <-t.result:
		return err
	case <-timer.C:
		b.mu.Lock()
		expired := t.status == TaskRunning
		if expired {
			t.status = TaskTimeout
			b.timedOut++
		}
		b.mu.Unlock()

		if !expired {
			// Finished in the same instant; take the real result.
			return <-t.result
		}
		b.emitTask(EventTaskFailed, t, ErrExecutionTimeout)
		return ErrExecutionTimeout
	}
}

// expire is the queue-timeout callback.
func (b *Bulkhead) expire(t *task) {
	b.mu.Lock()
	if t.status != TaskPending || !b.removeQueuedLocked(t) {
		b.mu.Unlock()
		return
	}
	t.status = TaskTimeout
	b.timedOut++
	b.mu.Unlock()

	t.rejected <- ErrQueueTimeout
	b.emitTask(EventTaskRejected, t, ErrQueueTimeout)
}

// withdraw removes a still-pending task on caller cancellation. Returns
// false if the task already left the queue.
func (b *Bulkhead) withdraw(t *task) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.status != TaskPending || !b.removeQueuedLocked(t) {
		return false
	}
	if t.queueTimer != nil {
		t.queueTimer.Stop()
	}
	t.status = TaskRejected
	b.rejected++
	return true
}

func (b *Bulkhead) removeQueuedLocked(t *task) bool {
	for i, q := range b.queue {
		if q == t {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return true
		}
	}
	return false
}

// ClearQueue rejects every queued task with ErrQueueCleared and empties the
// queue, returning the number of rejected tasks. Running tasks are untouched.
func (b *Bulkhead) ClearQueue() int {
	return b.clearQueue(ErrQueueCleared)
}

func (b *Bulkhead) clearQueue(reason error) int {
	b.mu.Lock()
	cleared := b.queue
	b.queue = nil
	for _, t := range cleared {
		if t.queueTimer != nil {
			t.queueTimer.Stop()
		}
		t.status = TaskRejected
		b.rejected++
	}
	b.mu.Unlock()

	for _, t := range cleared {
		t.rejected <- reason
		b.emitTask(EventTaskRejected, t, reason)
	}
	return len(cleared)
}

// Status returns a snapshot of occupancy, utilization, and metrics.
func (b *Bulkhead) Status() BulkheadStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BulkheadStatus{
		Name:          b.config.Name,
		Running:       b.running,
		Queued:        len(b.queue),
		MaxConcurrent: b.config.MaxConcurrent,
		MaxQueueSize:  b.config.MaxQueueSize,
		Metrics:       b.metricsLocked(),
	}
	st.RunningUtilization = 100 * float64(b.running) / float64(b.config.MaxConcurrent)
	if b.config.MaxQueueSize > 0 {
		st.QueueUtilization = 100 * float64(len(b.queue)) / float64(b.config.MaxQueueSize)
	}
	return st
}

// Metrics returns a copy of the bulkhead's cumulative metrics.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metricsLocked()
}

func (b *Bulkhead) metricsLocked() BulkheadMetrics {
	return BulkheadMetrics{
		Submitted:     b.submitted,
		Completed:     b.completed,
		Failed:        b.failed,
		TimedOut:      b.timedOut,
		Rejected:      b.rejected,
		MeanExecTime:  time.Duration(b.execTime.get()),
		MeanWaitTime:  time.Duration(b.waitTime.get()),
		PeakRunning:   b.peakRun,
		PeakQueueSize: b.peakQueue,
	}
}

// Subscribe registers a listener for this bulkhead's events and returns a
// cancel func that removes it.
func (b *Bulkhead) Subscribe(fn func(Event)) func() {
	return b.listeners.subscribe(fn)
}

// Destroy stops the metrics ticker, rejects all queued tasks, and refuses
// further submissions. Running tasks are left to complete.
func (b *Bulkhead) Destroy() {
	b.stopOnce.Do(func() {
		close(b.done)
	})

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.clearQueue(ErrQueueCleared)
	b.listeners.clear()
}

func (b *Bulkhead) emitTask(typ EventType, t *task, err error) {
	b.mu.Lock()
	snap := t.snapshot()
	b.mu.Unlock()

	b.listeners.emit(Event{
		Type:   typ,
		Source: b.config.Name,
		Time:   time.Now(),
		Err:    err,
		Task:   snap,
	})
}

func (b *Bulkhead) monitor() {
	ticker := time.NewTicker(b.config.MonitoringPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.listeners.emit(Event{
				Type:   EventMetricsSnapshot,
				Source: b.config.Name,
				Time:   time.Now(),
				Data:   b.Metrics(),
			})
		case <-b.done:
			return
		}
	}
}
