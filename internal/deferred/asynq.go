package deferred

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// DefaultQueue is the asynq queue name used for every task.
const DefaultQueue = "bloggart"

// maxSubmitAttempts bounds the enqueue attempts for one keyed task.
const maxSubmitAttempts = 8

// Asynq is a Submitter that stores tasks in Redis through hibiken/asynq.
// Retries follow asynq's defaults.
type Asynq struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	server    *asynq.Server
	mux       *Mux
	logger    zerolog.Logger
}

// NewAsynq connects a client and a worker server to the Redis at addr.
func NewAsynq(addr, password string, db int, mux *Mux, logger zerolog.Logger) *Asynq {
	return newAsynq(asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}, mux, logger)
}

func newAsynq(opt asynq.RedisConnOpt, mux *Mux, logger zerolog.Logger) *Asynq {
	logger = logger.With().Str("component", "asynq").Logger()
	server := asynq.NewServer(opt, asynq.Config{
		Queues:      map[string]int{DefaultQueue: 1},
		Concurrency: 1,
		Logger:      asynqLogger{logger},
		LogLevel:    asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("type", task.Type()).Msg("task failed")
		}),
	})
	return &Asynq{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		server:    server,
		mux:       mux,
		logger:    logger,
	}
}

// Submit enqueues t. A task whose Key is still waiting to run is dropped.
// When the task holding the Key is running or waiting for a retry, t is
// queued behind it under a follow-up ID so its work is not lost. Finished
// and archived tasks release their Key.
func (q *Asynq) Submit(ctx context.Context, t *Task) error {
	if t.Key == "" {
		return q.enqueue(ctx, t)
	}
	id := t.Key
	followUps := 0
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		err := q.enqueue(ctx, t, asynq.TaskID(id))
		if !errors.Is(err, asynq.ErrTaskIDConflict) {
			return err
		}
		info, err := q.inspector.GetTaskInfo(DefaultQueue, id)
		switch {
		case errors.Is(err, asynq.ErrTaskNotFound):
			// Removed since the conflict; try the same ID again.
		case err != nil:
			return fmt.Errorf("inspect task %s: %w", id, err)
		case info.State == asynq.TaskStatePending || info.State == asynq.TaskStateScheduled:
			q.logger.Debug().Str("type", t.Type).Str("key", id).Msg("dropping duplicate task")
			return nil
		case info.State == asynq.TaskStateCompleted || info.State == asynq.TaskStateArchived:
			if err := q.inspector.DeleteTask(DefaultQueue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
				return fmt.Errorf("release task %s: %w", id, err)
			}
		default:
			followUps++
			id = fmt.Sprintf("%s#%d", t.Key, followUps)
		}
	}
	q.logger.Warn().Str("type", t.Type).Str("key", t.Key).Msg("key stays taken, enqueueing without it")
	return q.enqueue(ctx, t)
}

func (q *Asynq) enqueue(ctx context.Context, t *Task, opts ...asynq.Option) error {
	opts = append(opts, asynq.Queue(DefaultQueue), asynq.Timeout(5*time.Minute))
	_, err := q.client.EnqueueContext(ctx, asynq.NewTask(t.Type, t.Payload), opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", t.Type, err)
	}
	return nil
}

// Run starts the worker and blocks until ctx is cancelled.
func (q *Asynq) Run(ctx context.Context) error {
	handler := asynq.HandlerFunc(func(ctx context.Context, at *asynq.Task) error {
		return q.mux.ProcessTask(ctx, &Task{Type: at.Type(), Payload: at.Payload()})
	})
	if err := q.server.Start(handler); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	<-ctx.Done()
	q.server.Shutdown()
	return nil
}

// Close closes the client and inspector connections.
func (q *Asynq) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

// asynqLogger routes asynq's internal logging to zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
