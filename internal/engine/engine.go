// Package engine runs when a trigger fires: it records a notification
// attempt, dispatches it with a bounded exponential backoff, and drives the
// task-level retry state machine.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bytesfield/schedula/internal/domain"
	"github.com/bytesfield/schedula/internal/errval"
)

const (
	executedMailTemplate = "task_executed"
	executedMailSubject  = "Task Executed Notification"
)

// TriggerScheduler is the slice of the trigger registry the engine needs:
// re-arming an in-process retry and dropping triggers of vanished tasks.
type TriggerScheduler interface {
	ArmOneShot(taskID int32, at time.Time, fire func(taskID int32)) error
	Cancel(taskID int32)
}

type Config struct {
	// FireTimeout bounds one complete firing (load, dispatch, persist).
	FireTimeout time.Duration
	// RetryDelay is the fixed task-level re-arm delay. It is deliberately
	// constant, unlike the exponential dispatch backoff.
	RetryDelay time.Duration
	// DispatchMaxRetries is the total number of immediate dispatch attempts
	// per firing, smoothing over transient provider errors.
	DispatchMaxRetries uint64
	DispatchBackoff    time.Duration
	DispatchBackoffCap time.Duration
	// ExhaustedStatus is the terminal status once task-level retries run out.
	// The historical behavior collapses give-up into "completed".
	ExhaustedStatus domain.TaskStatus
}

type Engine struct {
	storage    domain.Storage
	dispatcher domain.NotificationDispatcher
	renderer   domain.ContentRenderer
	triggers   TriggerScheduler
	cfg        Config

	now func() time.Time
}

func New(storage domain.Storage, dispatcher domain.NotificationDispatcher, renderer domain.ContentRenderer, triggers TriggerScheduler, cfg Config) *Engine {
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.DispatchMaxRetries == 0 {
		cfg.DispatchMaxRetries = 3
	}
	if cfg.DispatchBackoff <= 0 {
		cfg.DispatchBackoff = 500 * time.Millisecond
	}
	if cfg.DispatchBackoffCap <= 0 {
		cfg.DispatchBackoffCap = 8 * time.Second
	}
	if cfg.ExhaustedStatus == "" {
		cfg.ExhaustedStatus = domain.Completed
	}

	return &Engine{
		storage:    storage,
		dispatcher: dispatcher,
		renderer:   renderer,
		triggers:   triggers,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetClock injects the clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Fire is the trigger callback. Every failure inside it is translated into a
// task or attempt status mutation; nothing propagates out that could crash
// the worker.
func (e *Engine) Fire(taskID int32) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FireTimeout)
	defer cancel()

	task, err := e.storage.GetTaskByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.Info("Task vanished before firing, dropping its trigger", "task_id", taskID)
			e.triggers.Cancel(taskID)
			return
		}

		slog.Error("Failed to load task on firing", "task_id", taskID, "error", err.Error())
		return
	}

	if task.Completed {
		slog.Info("Task already completed, dropping its trigger", "task_id", taskID)
		e.triggers.Cancel(taskID)
		return
	}

	if task.Channel == "" {
		slog.Error("Task has no notification channel configured", "task_id", taskID)
		e.markFailed(ctx, task)
		return
	}

	attempt, err := e.createAttempt(ctx, task)
	if err != nil {
		slog.Error("Failed to create notification attempt", "task_id", taskID, "error", err.Error())
		return
	}
	slog.Info("Notification attempt created", "task_id", taskID, "attempt_number", attempt.AttemptNumber)

	resp, dispatchErr := e.dispatchWithBackoff(ctx, task)
	e.finishAttempt(ctx, attempt, resp, dispatchErr)

	if dispatchErr == nil {
		slog.Info("Notification dispatched", "task_id", taskID, "attempt_number", attempt.AttemptNumber)

		if task.IsOneTime() {
			e.complete(ctx, task)
			return
		}
	} else {
		slog.Error("Notification dispatch failed after inner retries", "task_id", taskID,
			"attempt_number", attempt.AttemptNumber, "error", dispatchErr.Error())
	}

	e.retryOrFinish(ctx, task)
}

func (e *Engine) createAttempt(ctx context.Context, task *domain.Task) (*domain.Notification, error) {
	maxAttempt, err := e.storage.MaxAttemptNumber(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	return e.storage.InsertNotification(ctx, &domain.Notification{
		TaskID:        task.ID,
		Channel:       task.Channel,
		AttemptNumber: maxAttempt + 1,
		Status:        domain.NotificationPending,
	})
}

// dispatchWithBackoff renders the message and calls the dispatcher, retrying
// transient failures with exponential backoff. 4xx-class provider responses
// are treated as permanent.
func (e *Engine) dispatchWithBackoff(ctx context.Context, task *domain.Task) (*domain.DispatchResponse, error) {
	if task.Channel != domain.ChannelEmail {
		return nil, errval.ErrInvalidNotificationType
	}

	content, err := e.renderer.Render(executedMailTemplate, map[string]string{
		"userName":  task.Owner.FirstName,
		"taskTitle": task.Title,
	})
	if err != nil {
		return nil, err
	}

	data := domain.SendEmailData{
		Recipient:   task.Owner.Email,
		Subject:     executedMailSubject,
		HTMLContent: content,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.DispatchBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = e.cfg.DispatchBackoffCap

	var resp *domain.DispatchResponse
	operation := func() error {
		var dispatchErr error
		resp, dispatchErr = e.dispatcher.Dispatch(ctx, data)
		if dispatchErr != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(dispatchErr)
			}

			return dispatchErr
		}

		return nil
	}

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, e.cfg.DispatchMaxRetries-1), ctx))
	return resp, err
}

func (e *Engine) finishAttempt(ctx context.Context, attempt *domain.Notification, resp *domain.DispatchResponse, dispatchErr error) {
	if resp != nil {
		attempt.ResponseStatus = resp.StatusCode
		attempt.ResponseBody = resp.Body
	}

	if dispatchErr == nil {
		sentAt := e.now()
		attempt.Status = domain.NotificationSent
		attempt.SentAt = &sentAt
	} else {
		attempt.Status = domain.NotificationFailed
		attempt.ErrorMessage = dispatchErr.Error()
	}

	if err := e.storage.FinishNotification(ctx, attempt); err != nil {
		slog.Error("Failed to persist attempt outcome", "task_id", attempt.TaskID,
			"attempt_number", attempt.AttemptNumber, "error", err.Error())
	}
}

// retryOrFinish is the task-level retry decision. With retries left the task is
// re-armed in process after a fixed delay; that retry does not survive a
// worker restart between the failure and its fire time (the poller picks the
// task up again on the next cycle instead).
func (e *Engine) retryOrFinish(ctx context.Context, task *domain.Task) {
	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = domain.Processing
		task.LastRunAt = task.NextRunAt
		next := e.now().Add(e.cfg.RetryDelay)
		task.NextRunAt = &next

		if err := e.storage.SaveTaskRun(ctx, task); err != nil {
			slog.Error("Failed to persist task retry state", "task_id", task.ID, "error", err.Error())
			return
		}

		if err := e.triggers.ArmOneShot(task.ID, next, e.Fire); err != nil {
			slog.Error("Failed to re-arm task retry", "task_id", task.ID, "error", err.Error())
			return
		}

		slog.Info("Task re-armed for retry", "task_id", task.ID,
			"retry_count", task.RetryCount, "attempts_left", task.MaxRetries-task.RetryCount, "next_run_at", next)
		return
	}

	task.Status = e.cfg.ExhaustedStatus
	task.Completed = e.cfg.ExhaustedStatus == domain.Completed
	if err := e.storage.SaveTaskRun(ctx, task); err != nil {
		slog.Error("Failed to persist exhausted task", "task_id", task.ID, "error", err.Error())
		return
	}

	slog.Info("Task retries exhausted", "task_id", task.ID, "status", task.Status)
}

func (e *Engine) complete(ctx context.Context, task *domain.Task) {
	task.Completed = true
	task.Status = domain.Completed
	if err := e.storage.SaveTaskRun(ctx, task); err != nil {
		slog.Error("Failed to persist completed task", "task_id", task.ID, "error", err.Error())
		return
	}

	slog.Info("Task executed and completed successfully", "task_id", task.ID)
}

func (e *Engine) markFailed(ctx context.Context, task *domain.Task) {
	if err := e.storage.UpdateTaskStatusAndLogChangeInTx(ctx, task.ID, task.Status, domain.Failed); err != nil {
		slog.Error("Failed to mark task as failed", "task_id", task.ID, "error", err.Error())
	}
}
