package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mgirard/keepsake/internal/store"
)

// Handler executes one task variant for the durable processor.
type Handler func(ctx context.Context, task Task) error

// Processor is the durable queue flavor: items persist across restarts and a
// fixed-interval poll loop drains them one at a time. Validation-request
// items are never auto-dequeued; they wait for explicit resolution.
type Processor struct {
	db       *store.DB
	log      *zap.Logger
	interval time.Duration

	handlers map[TaskKind]Handler

	mu        sync.Mutex
	paused    bool
	currentID string
	cancel    context.CancelFunc
}

// NewProcessor creates a durable processor polling at the given interval.
func NewProcessor(db *store.DB, log *zap.Logger, interval time.Duration) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Processor{
		db:       db,
		log:      log,
		interval: interval,
		handlers: make(map[TaskKind]Handler),
	}
}

// Register installs the handler for a task kind.
func (p *Processor) Register(kind TaskKind, h Handler) {
	p.handlers[kind] = h
}

// Enqueue persists a task. Unlike the in-memory queue, enqueue and dispatch
// are fully decoupled: the poll loop picks the item up on its next pass.
func (p *Processor) Enqueue(task Task) (string, error) {
	item, err := encodeTask(task)
	if err != nil {
		return "", err
	}
	if err := p.db.PutQueueItem(item); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Pause halts dequeuing and aborts the in-flight item as a transient
// cancellation; the item stays queued and is retried after Resume.
func (p *Processor) Pause() {
	p.mu.Lock()
	p.paused = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume lets the poll loop dequeue again.
func (p *Processor) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Paused reports whether the processor is paused.
func (p *Processor) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// CurrentTaskID returns the id of the in-flight item, or "".
func (p *Processor) CurrentTaskID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentID
}

// Run polls until ctx is cancelled. Per-task failures never stop the loop.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.Paused() {
				continue
			}
			p.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce dequeues and runs the highest-priority eligible item, if any.
// Exposed so tests and one-shot callers can pump the queue synchronously.
func (p *Processor) ProcessOnce(ctx context.Context) {
	item, err := p.db.NextQueueItem(string(KindValidationRequest))
	if err != nil {
		p.log.Error("queue poll failed", zap.Error(err))
		return
	}
	if item == nil {
		return
	}

	task, err := decodeTask(item)
	if err != nil {
		// Corrupt payloads are an invariant violation, never silently dropped.
		p.log.Error("parking undecodable queue item",
			zap.String("id", item.ID), zap.Error(err))
		if perr := p.db.ParkQueueItem(item.ID); perr != nil {
			p.log.Error("park failed", zap.String("id", item.ID), zap.Error(perr))
		}
		return
	}

	handler, ok := p.handlers[task.Kind]
	if !ok {
		p.log.Error("parking queue item with no handler",
			zap.String("id", task.ID), zap.String("kind", string(task.Kind)))
		if perr := p.db.ParkQueueItem(task.ID); perr != nil {
			p.log.Error("park failed", zap.String("id", task.ID), zap.Error(perr))
		}
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.currentID = task.ID
	p.cancel = cancel
	p.mu.Unlock()

	err = p.runSafely(runCtx, handler, task)
	cancel()

	p.mu.Lock()
	p.currentID = ""
	p.cancel = nil
	p.mu.Unlock()

	switch {
	case err == nil:
		if derr := p.db.DeleteQueueItem(task.ID); derr != nil {
			p.log.Error("delete completed item failed", zap.String("id", task.ID), zap.Error(derr))
		}
	case errors.Is(err, context.Canceled):
		// Transient abort (pause or shutdown): the item stays queued, its
		// inputs unconsumed, and is retried on a later pass.
		p.log.Info("task aborted, will retry", zap.String("id", task.ID), zap.String("kind", string(task.Kind)))
	default:
		p.log.Error("task failed",
			zap.String("id", task.ID), zap.String("kind", string(task.Kind)), zap.Error(err))
		if derr := p.db.DeleteQueueItem(task.ID); derr != nil {
			p.log.Error("delete failed item failed", zap.String("id", task.ID), zap.Error(derr))
		}
	}
}

func (p *Processor) runSafely(ctx context.Context, handler Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return handler(ctx, task)
}

// PendingValidations returns queued validation-request tasks in queue order.
func (p *Processor) PendingValidations() ([]Task, error) {
	items, err := p.db.ListQueueItems(string(KindValidationRequest))
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(items))
	for i := range items {
		task, err := decodeTask(&items[i])
		if err != nil {
			p.log.Error("skipping undecodable validation", zap.String("id", items[i].ID), zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Depth returns the number of queued items.
func (p *Processor) Depth() (int, error) {
	return p.db.QueueDepth()
}
