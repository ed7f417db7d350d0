// Package deferred runs work outside of the request that produced it.
//
// Producers build a Task and hand it to a Submitter. Consumers register a
// HandlerFunc per task type on a Mux. The in-process queue runs tasks one at
// a time on a background goroutine; the asynq queue stores them in Redis so
// any worker process can pick them up.
package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownType is returned when no handler is registered for a task type.
var ErrUnknownType = errors.New("deferred: no handler for task type")

// Task is a unit of deferred work.
type Task struct {
	// Type selects the handler.
	Type string

	// Key deduplicates submissions. While a task with the same non-empty Key
	// is pending, further submissions are dropped.
	Key string

	// Payload is the JSON-encoded argument of the task.
	Payload []byte
}

// NewTask JSON-encodes payload into a new Task.
func NewTask(typ, key string, payload any) (*Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return &Task{Type: typ, Key: key, Payload: b}, nil
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	return nil
}

// HandlerFunc processes a task. A returned error marks the task as failed.
type HandlerFunc func(ctx context.Context, t *Task) error

// Submitter accepts tasks for later execution.
type Submitter interface {
	Submit(ctx context.Context, t *Task) error
}

// Mux routes tasks to handlers by type.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for tasks of type typ, replacing any previous handler.
func (m *Mux) Handle(typ string, h HandlerFunc) {
	m.mu.Lock()
	m.handlers[typ] = h
	m.mu.Unlock()
}

// ProcessTask dispatches t to its handler.
func (m *Mux) ProcessTask(ctx context.Context, t *Task) error {
	m.mu.RLock()
	h, ok := m.handlers[t.Type]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, t.Type)
	}
	return h(ctx, t)
}
