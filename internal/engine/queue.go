package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner executes one task. Implementations must honor ctx at their
// suspension points and must not perform irreversible side effects before
// checking it one final time (the commit point).
type Runner func(ctx context.Context, task Task) error

// CompletionCallback observes each finished task. err is nil on success,
// ctx.Err() on cooperative abort, or the task's failure.
type CompletionCallback func(task Task, err error)

// TaskQueue is the in-memory, ad hoc queue flavor. Order is priority-major,
// insertion-time-minor (task ID as the final tie-break). At most one task is
// in flight at any time: a cycle is scheduled only when none is running, and
// a finishing cycle re-triggers itself while work remains, so racing
// Enqueue calls cannot double-schedule.
type TaskQueue struct {
	runner       Runner
	log          *zap.Logger
	drainTimeout time.Duration

	mu           sync.Mutex
	items        []Task
	inFlight     bool
	currentID    string
	cancel       context.CancelFunc
	shuttingDown bool
	onDone       CompletionCallback
}

// NewTaskQueue creates a queue that executes tasks with runner. drain bounds
// how long Shutdown waits for the in-flight task; zero or negative means 5s.
// Callers own the instance; there is no shared global queue.
func NewTaskQueue(runner Runner, log *zap.Logger, drain time.Duration) *TaskQueue {
	if log == nil {
		log = zap.NewNop()
	}
	if drain <= 0 {
		drain = 5 * time.Second
	}
	return &TaskQueue{
		runner:       runner,
		log:          log,
		drainTimeout: drain,
	}
}

// SetCompletionCallback registers fn to observe finished tasks. Panics in fn
// are recovered and logged, never propagated into the loop.
func (q *TaskQueue) SetCompletionCallback(fn CompletionCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDone = fn
}

// Enqueue adds a task and schedules a processing cycle if none is in flight.
// Once shutdown has begun it is a no-op returning the empty id.
func (q *TaskQueue) Enqueue(task Task) string {
	if err := task.Validate(); err != nil {
		q.log.Error("rejecting invalid task", zap.Error(err))
		return ""
	}

	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return ""
	}
	q.items = append(q.items, task)
	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	start := !q.inFlight
	if start {
		q.inFlight = true
	}
	q.mu.Unlock()

	if start {
		go q.cycle()
	}
	return task.ID
}

// ProcessNext kicks the queue: it schedules a cycle if the queue is idle and
// non-empty. Safe to call at any time; a no-op while a task is in flight.
func (q *TaskQueue) ProcessNext() {
	q.mu.Lock()
	start := !q.inFlight && !q.shuttingDown && len(q.items) > 0
	if start {
		q.inFlight = true
	}
	q.mu.Unlock()

	if start {
		go q.cycle()
	}
}

// cycle processes the head task, then re-triggers itself while work remains.
// Invariant: called only with q.inFlight already claimed by the caller.
func (q *TaskQueue) cycle() {
	q.mu.Lock()
	if len(q.items) == 0 || q.shuttingDown {
		q.inFlight = false
		q.mu.Unlock()
		return
	}
	task := q.items[0]
	q.items = q.items[1:]
	ctx, cancel := context.WithCancel(context.Background())
	q.currentID = task.ID
	q.cancel = cancel
	onDone := q.onDone
	q.mu.Unlock()

	err := q.runSafely(ctx, task)
	cancel()

	q.mu.Lock()
	q.currentID = ""
	q.cancel = nil
	more := len(q.items) > 0 && !q.shuttingDown
	if !more {
		q.inFlight = false
	}
	q.mu.Unlock()

	if onDone != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.log.Error("completion callback panicked", zap.Any("panic", r))
				}
			}()
			onDone(task, err)
		}()
	}

	if more {
		go q.cycle()
	}
}

// runSafely executes the task, converting a panic into an error so one bad
// task never stops the loop.
func (q *TaskQueue) runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	if q.runner == nil {
		return fmt.Errorf("task %s: no runner configured", task.ID)
	}
	return q.runner(ctx, task)
}

// AbortCurrent signals the in-flight task's cancellation token, if any.
// The task's inputs are never marked consumed past its commit point, so an
// aborted task is safely retried by a later cycle.
func (q *TaskQueue) AbortCurrent() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown rejects further enqueues, aborts the in-flight task, and waits up
// to the drain timeout before force-clearing what remains. Best effort, not
// a completion guarantee.
func (q *TaskQueue) Shutdown() {
	q.mu.Lock()
	q.shuttingDown = true
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	deadline := time.Now().Add(q.drainTimeout)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		idle := !q.inFlight
		q.mu.Unlock()
		if idle {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()
	if dropped > 0 {
		q.log.Warn("shutdown discarded queued tasks", zap.Int("count", dropped))
	}
}

// Depth returns the number of queued (not in-flight) tasks.
func (q *TaskQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight reports whether a task is currently executing.
func (q *TaskQueue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}
