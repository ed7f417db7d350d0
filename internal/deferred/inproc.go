package deferred

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// InProc is a Submitter that executes tasks sequentially inside the current
// process. Failed tasks are logged and dropped.
type InProc struct {
	mux    *Mux
	logger zerolog.Logger

	// runMu serializes task execution between Run and Flush.
	runMu sync.Mutex

	mu      sync.Mutex
	pending []*Task
	keys    map[string]struct{}
	wake    chan struct{}
}

// NewInProc creates an in-process queue dispatching to mux.
func NewInProc(mux *Mux, logger zerolog.Logger) *InProc {
	return &InProc{
		mux:    mux,
		logger: logger,
		keys:   make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Submit appends t to the queue. Duplicate keys are dropped silently.
func (q *InProc) Submit(ctx context.Context, t *Task) error {
	q.mu.Lock()
	if t.Key != "" {
		if _, ok := q.keys[t.Key]; ok {
			q.mu.Unlock()
			q.logger.Debug().Str("type", t.Type).Str("key", t.Key).Msg("dropping duplicate task")
			return nil
		}
		q.keys[t.Key] = struct{}{}
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending reports the number of queued tasks.
func (q *InProc) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *InProc) next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if t.Key != "" {
		delete(q.keys, t.Key)
	}
	return t
}

func (q *InProc) process(ctx context.Context, t *Task) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	err := q.mux.ProcessTask(ctx, t)
	if err != nil {
		q.logger.Error().Err(err).Str("type", t.Type).Str("key", t.Key).Msg("task failed")
	}
	return err
}

// Run processes tasks as they arrive until ctx is cancelled.
func (q *InProc) Run(ctx context.Context) error {
	for {
		for t := q.next(); t != nil; t = q.next() {
			if ctx.Err() != nil {
				return nil
			}
			_ = q.process(ctx, t)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

// Flush runs queued tasks on the calling goroutine until the queue is empty,
// including tasks submitted by the tasks it runs. It returns the failures
// joined together.
func (q *InProc) Flush(ctx context.Context) error {
	var errs []error
	for t := q.next(); t != nil; t = q.next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.process(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
