package resilience

import (
	"testing"
	"time"
)

func TestListenerSet_EmitReachesAllListeners(t *testing.T) {
	var ls listenerSet
	var a, b int
	ls.subscribe(func(Event) { a++ })
	ls.subscribe(func(Event) { b++ })

	ls.emit(Event{Type: EventStateChanged, Time: time.Now()})

	if a != 1 || b != 1 {
		t.Errorf("listener calls = %d/%d, want 1/1", a, b)
	}
}

func TestListenerSet_CancelRemovesOnlyOne(t *testing.T) {
	var ls listenerSet
	var a, b int
	cancelA := ls.subscribe(func(Event) { a++ })
	ls.subscribe(func(Event) { b++ })

	cancelA()
	ls.emit(Event{Type: EventStateChanged})

	if a != 0 {
		t.Errorf("cancelled listener calls = %d, want 0", a)
	}
	if b != 1 {
		t.Errorf("remaining listener calls = %d, want 1", b)
	}
}

func TestListenerSet_CancelIsIdempotent(t *testing.T) {
	var ls listenerSet
	var calls int
	cancel := ls.subscribe(func(Event) { calls++ })
	ls.subscribe(func(Event) {})

	cancel()
	cancel()
	ls.emit(Event{Type: EventStateChanged})

	if calls != 0 {
		t.Errorf("listener calls = %d, want 0", calls)
	}
}

func TestListenerSet_ReentrantSubscribe(t *testing.T) {
	var ls listenerSet
	var nested int
	ls.subscribe(func(Event) {
		ls.subscribe(func(Event) { nested++ })
	})

	ls.emit(Event{Type: EventStateChanged}) // registers the nested listener
	ls.emit(Event{Type: EventStateChanged})

	if nested != 1 {
		t.Errorf("nested listener calls = %d, want 1", nested)
	}
}

func TestListenerSet_ClearDropsAll(t *testing.T) {
	var ls listenerSet
	var calls int
	ls.subscribe(func(Event) { calls++ })

	ls.clear()
	ls.emit(Event{Type: EventStateChanged})

	if calls != 0 {
		t.Errorf("listener calls after clear = %d, want 0", calls)
	}
}

func TestTaskStatus_String(t *testing.T) {
	cases := []struct {
		status TaskStatus
		want   string
	}{
		{TaskPending, "pending"},
		{TaskRunning, "running"},
		{TaskCompleted, "completed"},
		{TaskFailed, "failed"},
		{TaskTimeout, "timeout"},
		{TaskRejected, "rejected"},
	}
	for _, tc := range cases {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("TaskStatus(%d).String() = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestStateStrings(t *testing.T) {
	if got := StateClosed.String(); got != "closed" {
		t.Errorf("StateClosed.String() = %q, want closed", got)
	}
	if got := StateHalfOpen.String(); got != "half-open" {
		t.Errorf("StateHalfOpen.String() = %q, want half-open", got)
	}
	if got := StateRecovering.String(); got != "recovering" {
		t.Errorf("StateRecovering.String() = %q, want recovering", got)
	}
}
