package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewBulkhead_Defaults(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "pool"})
	defer b.Destroy()

	if b.config.MaxConcurrent != 10 {
		t.Errorf("MaxConcurrent = %d, want 10", b.config.MaxConcurrent)
	}
	if b.config.MaxQueueSize != 0 {
		t.Errorf("MaxQueueSize = %d, want 0", b.config.MaxQueueSize)
	}
	if b.config.ExecutionTimeout != 30*time.Second {
		t.Errorf("ExecutionTimeout = %v, want 30s", b.config.ExecutionTimeout)
	}
}

func TestBulkhead_ExecutesImmediatelyWithFreeSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "pool", MaxConcurrent: 2})
	defer b.Destroy()

	ran := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !ran {
		t.Error("operation did not run")
	}

	m := b.Metrics()
	if m.Submitted != 1 || m.Completed != 1 {
		t.Errorf("Submitted/Completed = %d/%d, want 1/1", m.Submitted, m.Completed)
	}
}

func TestBulkhead_PropagatesOperationError(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "pool", MaxConcurrent: 1})
	defer b.Destroy()

	boom := errors.New("boom")
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return boom
	})
	if err != boom {
		t.Errorf("Execute() error = %v, want %v", err, boom)
	}
	if m := b.Metrics(); m.Failed != 1 {
		t.Errorf("Failed = %d, want 1", m.Failed)
	}
}

func TestBulkhead_RejectsWhenQueueFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: 2,
		MaxQueueSize:  2,
	})
	defer b.Destroy()

	release := make(chan struct{})
	var wg sync.WaitGroup

	// Fill the running set and the queue: 2 running + 2 queued.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(ctx context.Context) error {
				<-release
				return nil
			})
		}()
	}

	// Wait until the bulkhead reports full occupancy.
	deadline := time.Now().Add(time.Second)
	for {
		st := b.Status()
		if st.Running == 2 && st.Queued == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bulkhead never filled: running=%d queued=%d", st.Running, st.Queued)
		}
		time.Sleep(time.Millisecond)
	}

	// The 5th submission must be rejected synchronously.
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("rejected task must not run")
		return nil
	})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Execute() error = %v, want ErrQueueFull", err)
	}

	close(release)
	wg.Wait()

	if m := b.Metrics(); m.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", m.Rejected)
	}
}

func TestBulkhead_QueueIsFIFO(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: 1,
		MaxQueueSize:  5,
	})
	defer b.Destroy()

	release := make(chan struct{})
	blockerStarted := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(blockerStarted)
			<-release
			return nil
		})
	}()
	<-blockerStarted

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		// Make sure task i is enqueued before task i+1 is submitted.
		for b.Status().Queued < i-1 {
			time.Sleep(time.Millisecond)
		}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
	}
	for b.Status().Queued < 3 {
		time.Sleep(time.Millisecond)
	}

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("dequeue order = %v, want [1 2 3]", order)
	}
}

func TestBulkhead_RunningNeverExceedsMaxConcurrent(t *testing.T) {
	const maxConcurrent = 4
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: maxConcurrent,
		MaxQueueSize:  100,
	})
	defer b.Destroy()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(ctx context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > maxConcurrent {
		t.Errorf("peak concurrency = %d, want <= %d", p, maxConcurrent)
	}
	if m := b.Metrics(); m.Completed != 40 {
		t.Errorf("Completed = %d, want 40", m.Completed)
	}
}

func TestBulkhead_QueueTimeout(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: 1,
		MaxQueueSize:  1,
		QueueTimeout:  20 * time.Millisecond,
	})
	defer b.Destroy()

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("expired task must not run")
		return nil
	})
	if !errors.Is(err, ErrQueueTimeout) {
		t.Errorf("Execute() error = %v, want ErrQueueTimeout", err)
	}

	close(release)
	wg.Wait()

	if st := b.Status(); st.Queued != 0 {
		t.Errorf("Queued after expiry = %d, want 0", st.Queued)
	}
}

func TestBulkhead_ExecutionTimeoutAbandonsTask(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:             "pool",
		MaxConcurrent:    1,
		MaxQueueSize:     1,
		ExecutionTimeout: 20 * time.Millisecond,
	})
	defer b.Destroy()

	var finished atomic.Bool
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		time.Sleep(80 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Errorf("Execute() error = %v, want ErrExecutionTimeout", err)
	}
	// The caller is released but the operation keeps running; the slot is
	// freed only when it finishes.
	if finished.Load() {
		t.Error("operation reported finished before its sleep elapsed")
	}

	time.Sleep(100 * time.Millisecond)
	if !finished.Load() {
		t.Error("abandoned operation never ran to completion")
	}
	if st := b.Status(); st.Running != 0 {
		t.Errorf("Running after completion = %d, want 0", st.Running)
	}
	if m := b.Metrics(); m.TimedOut != 1 {
		t.Errorf("TimedOut = %d, want 1", m.TimedOut)
	}
}

func TestBulkhead_Scenario(t *testing.T) {
	// maxConcurrent=2: tasks of 100ms, 200ms, and 50ms. The third queues
	// and starts only once the first slot frees.
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: 2,
		MaxQueueSize:  2,
	})
	defer b.Destroy()

	start := time.Now()
	var thirdStarted time.Duration
	var wg sync.WaitGroup

	run := func(d time.Duration, onStart func()) {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			if onStart != nil {
				onStart()
			}
			time.Sleep(d)
			return nil
		})
	}

	wg.Add(2)
	go run(100*time.Millisecond, nil)
	go run(200*time.Millisecond, nil)
	for b.Status().Running < 2 {
		time.Sleep(time.Millisecond)
	}

	wg.Add(1)
	go run(50*time.Millisecond, func() {
		thirdStarted = time.Since(start)
	})
	wg.Wait()

	if thirdStarted < 90*time.Millisecond {
		t.Errorf("third task started after %v, want >= ~100ms", thirdStarted)
	}
	m := b.Metrics()
	if m.Completed != 3 {
		t.Errorf("Completed = %d, want 3", m.Completed)
	}
	if m.PeakRunning != 2 {
		t.Errorf("PeakRunning = %d, want 2", m.PeakRunning)
	}
}

func TestBulkhead_ClearQueue(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: 1,
		MaxQueueSize:  3,
	})
	defer b.Destroy()

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Execute(context.Background(), func(ctx context.Context) error {
				return nil
			})
		}()
	}
	for b.Status().Queued < 2 {
		time.Sleep(time.Millisecond)
	}

	if cleared := b.ClearQueue(); cleared != 2 {
		t.Errorf("ClearQueue() = %d, want 2", cleared)
	}

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrQueueCleared) {
			t.Errorf("queued Execute() error = %v, want ErrQueueCleared", err)
		}
	}
}

func TestBulkhead_ContextCancelWithdrawsQueuedTask(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: 1,
		MaxQueueSize:  1,
	})
	defer b.Destroy()

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- b.Execute(ctx, func(ctx context.Context) error {
			t.Error("withdrawn task must not run")
			return nil
		})
	}()
	for b.Status().Queued < 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	err := <-errCh
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}

	close(release)
	wg.Wait()
	if st := b.Status(); st.Queued != 0 {
		t.Errorf("Queued after withdrawal = %d, want 0", st.Queued)
	}
}

func TestBulkhead_RejectionRacingCancelDoesNotStrandCaller(t *testing.T) {
	// Clear the queue and cancel the caller's context at the same moment,
	// from a listener that runs just before the caller starts waiting. The
	// caller must return promptly with one of the two outcomes rather than
	// wait for a result that will never arrive.
	for i := 0; i < 25; i++ {
		b := NewBulkhead(BulkheadConfig{
			Name:          "pool",
			MaxConcurrent: 1,
			MaxQueueSize:  1,
		})

		release := make(chan struct{})
		started := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(ctx context.Context) error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started

		ctx, cancel := context.WithCancel(context.Background())
		unsubscribe := b.Subscribe(func(ev Event) {
			if ev.Type == EventTaskQueued {
				b.ClearQueue()
				cancel()
			}
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Execute(ctx, func(ctx context.Context) error {
				t.Error("cleared task must not run")
				return nil
			})
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, ErrQueueCleared) && !errors.Is(err, context.Canceled) {
				t.Fatalf("Execute() error = %v, want ErrQueueCleared or context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("caller stuck waiting on a task that was already rejected")
		}

		unsubscribe()
		close(release)
		wg.Wait()
		b.Destroy()
		cancel()
	}
}

func TestBulkhead_DestroyRejectsNewWork(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "pool", MaxConcurrent: 1})
	b.Destroy()

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if !errors.Is(err, ErrBulkheadClosed) {
		t.Errorf("Execute() after Destroy error = %v, want ErrBulkheadClosed", err)
	}
}

func TestBulkhead_Events(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: 1,
		MaxQueueSize:  1,
	})
	defer b.Destroy()

	var mu sync.Mutex
	seen := map[EventType]int{}
	cancel := b.Subscribe(func(ev Event) {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
		if ev.Task == nil {
			t.Errorf("task event %q missing snapshot", ev.Type)
		}
	})
	defer cancel()

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return nil })

	mu.Lock()
	defer mu.Unlock()
	if seen[EventTaskStarted] != 1 {
		t.Errorf("task-started events = %d, want 1", seen[EventTaskStarted])
	}
	if seen[EventTaskCompleted] != 1 {
		t.Errorf("task-completed events = %d, want 1", seen[EventTaskCompleted])
	}
}

func TestBulkhead_Utilization(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{
		Name:          "pool",
		MaxConcurrent: 2,
		MaxQueueSize:  4,
	})
	defer b.Destroy()

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(ctx context.Context) error {
				<-release
				return nil
			})
		}()
	}
	for {
		st := b.Status()
		if st.Running == 2 && st.Queued == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	st := b.Status()
	if st.RunningUtilization != 100 {
		t.Errorf("RunningUtilization = %v, want 100", st.RunningUtilization)
	}
	if st.QueueUtilization != 25 {
		t.Errorf("QueueUtilization = %v, want 25", st.QueueUtilization)
	}

	close(release)
	wg.Wait()
}
