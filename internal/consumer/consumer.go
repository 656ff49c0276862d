// Package consumer turns queued task references into armed triggers. The
// queue is at-least-once, so the handler must tolerate duplicate deliveries
// of the same task id: a distributed lock serializes concurrent duplicates
// and arming replaces any trigger already held for the id.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/bytesfield/schedula/internal/domain"
	"github.com/bytesfield/schedula/internal/errval"
	"github.com/bytesfield/schedula/internal/trigger"
)

const lockTTL = 10 * time.Second

type Consumer struct {
	storage  domain.Storage
	locker   domain.DistributedLock
	triggers *trigger.Scheduler
	fire     trigger.Callback
	timeout  time.Duration
}

func New(storage domain.Storage, locker domain.DistributedLock, triggers *trigger.Scheduler, fire trigger.Callback, timeout time.Duration) *Consumer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Consumer{
		storage:  storage,
		locker:   locker,
		triggers: triggers,
		fire:     fire,
		timeout:  timeout,
	}
}

// Handle processes one queued task reference. It is safe to invoke
// concurrently for different task ids.
func (c *Consumer) Handle(ref domain.TaskRef) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	slog.Info("Task is picked up from the queue", "task_id", ref.ID, "kind", ref.Kind)

	lockKey := "lock:" + strconv.FormatInt(int64(ref.ID), 10)
	isLocked, err := c.locker.Lock(lockKey, lockTTL)
	if err != nil {
		slog.Error("Error occurred while locking the key for task", "lock_key", lockKey, "error", err.Error())
		return
	}
	if !isLocked {
		slog.Error("Concurrent processing detected for the task, ignoring this delivery...", "task_id", ref.ID)
		return
	}
	defer func() {
		if err := c.locker.Unlock(lockKey); err != nil {
			slog.Error("Error while unlocking locked key", "lock_key", lockKey, "error", err.Error())
		}
	}()

	task, err := c.storage.GetTaskByID(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			// Terminal for this message: the task vanished between the poll
			// and the consume.
			slog.Info("Task not found, dropping the message", "task_id", ref.ID)
			return
		}

		slog.Error("Failed to load task, leaving it for the next poll cycle", "task_id", ref.ID, "error", err.Error())
		return
	}

	if task.Completed {
		slog.Info("Task already completed, dropping the message", "task_id", task.ID)
		c.triggers.Cancel(task.ID)
		return
	}

	sched, err := domain.Classify(task)
	if err != nil {
		slog.Warn("Skipping task due to invalid schedule configuration", "task_id", task.ID, "error", err.Error())
		c.markFailed(ctx, task)
		return
	}

	if err := c.triggers.Arm(task.ID, sched, c.fire); err != nil {
		slog.Error("Trigger scheduler rejected the task", "task_id", task.ID, "error", err.Error())
		c.markFailed(ctx, task)
		return
	}

	// Idempotent re-mark: a duplicate delivery of an already queued task
	// lands here again without harm.
	updated, err := c.storage.SetTaskStatusIfIn(ctx, task.ID,
		[]domain.TaskStatus{domain.Pending, domain.Processing, domain.Queued}, domain.Queued)
	if err != nil {
		slog.Error("Failed to mark task as queued", "task_id", task.ID, "error", err.Error())
		return
	}
	if !updated {
		slog.Info("Task status no longer permits queueing", "task_id", task.ID)
		return
	}

	slog.Info("Task scheduled successfully", "task_id", task.ID, "kind", task.Kind)
}

func (c *Consumer) markFailed(ctx context.Context, task *domain.Task) {
	if err := c.storage.UpdateTaskStatusAndLogChangeInTx(ctx, task.ID, task.Status, domain.Failed); err != nil {
		slog.Error("There was an error in updating task status to failed", "task_id", task.ID, "error", err.Error())
		return
	}

	slog.Info("Task state is changed to 'failed'", "task_id", task.ID)
}
