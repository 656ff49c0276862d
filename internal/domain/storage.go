package domain

import (
	"context"
	"time"
)

type Storage interface {
	Ping(ctx context.Context) (err error)

	InsertUser(ctx context.Context, user *User) (*User, error)
	GetUserByID(ctx context.Context, id int32) (*User, error)

	InsertTask(ctx context.Context, task *Task) (*Task, error)
	GetTaskByID(ctx context.Context, id int32) (*Task, error)
	GetUserTasks(ctx context.Context, userID int32) ([]*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	DeleteTask(ctx context.Context, id int32) error

	// FindDueTasks returns tasks whose next run time has passed and whose
	// status still permits dispatch.
	FindDueTasks(ctx context.Context, now time.Time, limit int32) ([]*Task, error)

	// SetTaskStatusIfIn atomically moves a task to newStatus when its current
	// status is one of expected, logging the change in the history table.
	// It reports whether a row was updated.
	SetTaskStatusIfIn(ctx context.Context, taskID int32, expected []TaskStatus, newStatus TaskStatus) (bool, error)
	UpdateTaskStatusAndLogChangeInTx(ctx context.Context, taskID int32, currentStatus, newStatus TaskStatus) error
	GetTaskStatusChangeHistory(ctx context.Context, taskID int32) ([]*TaskStatusChangeHistory, error)

	// SaveTaskRun persists the per-firing bookkeeping fields: status,
	// retry_count, last_run_at, next_run_at and the completed flag.
	SaveTaskRun(ctx context.Context, task *Task) error

	InsertNotification(ctx context.Context, n *Notification) (*Notification, error)
	FinishNotification(ctx context.Context, n *Notification) error
	MaxAttemptNumber(ctx context.Context, taskID int32) (int32, error)
	GetTaskNotifications(ctx context.Context, taskID int32) ([]*Notification, error)
}
