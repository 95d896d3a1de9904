package resilience

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Operation is a protected unit of work. It must honor ctx cancellation at
// I/O boundaries; beyond that it is opaque to the resilience components.
type Operation func(ctx context.Context) error

// TaskStatus is the lifecycle state of a bulkhead task.
type TaskStatus int

const (
	// TaskPending means the task is waiting in the bulkhead queue.
	TaskPending TaskStatus = iota
	// TaskRunning means the task occupies an execution slot.
	TaskRunning
	// TaskCompleted means the task finished without error.
	TaskCompleted
	// TaskFailed means the task returned an error.
	TaskFailed
	// TaskTimeout means the task exceeded its execution timeout.
	TaskTimeout
	// TaskRejected means the task was rejected before running.
	TaskRejected
)

// String returns the string representation of the status.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskTimeout:
		return "timeout"
	case TaskRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// TaskSnapshot is an immutable view of a task, exposed in events and status.
type TaskSnapshot struct {
	ID          string
	Status      TaskStatus
	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// task is the bulkhead's internal bookkeeping for one protected operation.
// All mutation happens under the owning bulkhead's lock.
type task struct {
	id          string
	op          Operation
	ctx         context.Context
	status      TaskStatus
	submittedAt time.Time
	startedAt   time.Time
	completedAt time.Time

	// started is closed when the task transitions pending->running so the
	// waiting caller can switch from the queue clock to the execution clock.
	started chan struct{}
	// result delivers the operation outcome exactly once; buffered so the
	// runner never blocks on an abandoned waiter.
	result chan error
	// rejected delivers a rejection (queue timeout, clear, destroy).
	rejected chan error

	queueTimer *time.Timer
}

func newTask(op Operation) *task {
	return &task{
		id:          uuid.NewString(),
		op:          op,
		status:      TaskPending,
		submittedAt: time.Now(),
		started:     make(chan struct{}),
		result:      make(chan error, 1),
		rejected:    make(chan error, 1),
	}
}

func (t *task) snapshot() *TaskSnapshot {
	return &TaskSnapshot{
		ID:          t.id,
		Status:      t.status,
		SubmittedAt: t.submittedAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
	}
}
