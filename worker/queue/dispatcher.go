// Package queue dispatches pending tasks to their handlers. The task
// collection in Postgres is the queue transport: the api notifies on insert,
// a poll sweep catches anything a notification missed, and an atomic
// conditional update claims each task exactly once.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"watermarker/worker/models"
	"watermarker/worker/pool"
	"watermarker/worker/repository"
)

// Handler processes one claimed task to completion or error.
type Handler interface {
	Handle(ctx context.Context, task models.Task) error
}

// UnknownTypeError is recorded on tasks whose type has no registered handler.
type UnknownTypeError struct {
	Type models.TaskType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown task type: %s", e.Type)
}

type Dispatcher struct {
	repo     repository.Repository
	workers  *pool.WorkerPool
	handlers map[models.TaskType]Handler

	pollInterval time.Duration
	kick         chan struct{}

	logger *zap.Logger
}

func NewDispatcher(repo repository.Repository, workers *pool.WorkerPool, pollInterval time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:         repo,
		workers:      workers,
		handlers:     make(map[models.TaskType]Handler),
		pollInterval: pollInterval,
		kick:         make(chan struct{}, 1),
		logger:       logger,
	}
}

// Register binds a handler to a task type. Must be called before Run.
func (d *Dispatcher) Register(taskType models.TaskType, handler Handler) {
	d.handlers[taskType] = handler
}

// Notify asks the dispatcher to sweep for pending tasks soon. Safe to call
// from any goroutine; redundant notifications coalesce.
func (d *Dispatcher) Notify() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run sweeps for pending tasks until ctx ends, then waits for in-flight
// handlers to finish. Claimed tasks are never cancelled mid-flight; a
// process kill during shutdown is the accepted way a task can be abandoned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Task dispatcher started",
		zap.Duration("poll_interval", d.pollInterval),
	)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Task dispatcher stopping, waiting for in-flight tasks")
			d.workers.Wait()
			d.logger.Info("Task dispatcher stopped")
			return
		case <-d.kick:
			d.sweep(ctx)
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	tasks, err := d.repo.PendingTasks(ctx)
	if err != nil {
		d.logger.Error("Failed to list pending tasks", zap.Error(err))
		return
	}

	for _, task := range tasks {
		d.dispatch(ctx, task)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task models.Task) {
	claimed, err := d.repo.ClaimTask(ctx, task.ID)
	if err != nil {
		d.logger.Error("Failed to claim task",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return
	}
	if !claimed {
		// Someone else won the conditional update.
		return
	}

	d.logger.Info("Task claimed",
		zap.String("task_id", task.ID),
		zap.String("type", string(task.Type)),
	)

	handler, ok := d.handlers[task.Type]
	if !ok {
		err := &UnknownTypeError{Type: task.Type}
		d.logger.Error("No handler for task",
			zap.String("task_id", task.ID),
			zap.String("type", string(task.Type)),
		)
		d.recordFailure(ctx, task.ID, err)
		return
	}

	// Handlers run on a context detached from the dispatch loop so shutdown
	// does not cancel work mid-pipeline.
	taskCtx := context.WithoutCancel(ctx)
	d.workers.Submit(ctx, func(context.Context) {
		if err := handler.Handle(taskCtx, task); err != nil {
			d.logger.Error("Task failed",
				zap.String("task_id", task.ID),
				zap.String("type", string(task.Type)),
				zap.Error(err),
			)
			d.recordFailure(taskCtx, task.ID, err)
			return
		}

		if err := d.repo.CompleteTask(taskCtx, task.ID); err != nil {
			d.logger.Error("Failed to record task completion",
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
			return
		}
		d.logger.Info("Task completed", zap.String("task_id", task.ID))
	})
}

func (d *Dispatcher) recordFailure(ctx context.Context, taskID string, taskErr error) {
	if err := d.repo.FailTask(ctx, taskID, taskErr.Error()); err != nil {
		d.logger.Error("Failed to record task failure",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}
