package domain

import (
	"time"
)

type TaskStatus string

const (
	Pending    TaskStatus = "pending"
	Queued     TaskStatus = "queued"
	Processing TaskStatus = "processing"
	Completed  TaskStatus = "completed"
	Failed     TaskStatus = "failed"
)

type TaskKind string

const (
	KindCron      TaskKind = "cron"
	KindTimestamp TaskKind = "timestamp"
)

type ScheduleType string

const (
	ScheduleOnce      ScheduleType = "once"
	ScheduleRecurring ScheduleType = "recurring"
)

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
)

// Task is a user-owned unit of scheduled work. The store row is the single
// source of truth for its status; in-memory copies are transient.
type Task struct {
	ID             int32               `json:"id"`
	UserID         int32               `json:"user_id"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Kind           TaskKind            `json:"kind"`
	ScheduleType   ScheduleType        `json:"schedule_type"`
	CronExpression string              `json:"cron_expression"`
	Channel        NotificationChannel `json:"channel"`
	Payload        map[string]string   `json:"payload"`
	Status         TaskStatus          `json:"status"`
	RetryCount     int32               `json:"retry_count"`
	MaxRetries     int32               `json:"max_retries"`
	NextRunAt      *time.Time          `json:"next_run_at"`
	LastRunAt      *time.Time          `json:"last_run_at"`
	Completed      bool                `json:"completed"`
	CreatedAtStamp int64               `json:"created_at_stamp"`
	UpdatedAtStamp int64               `json:"updated_at_stamp"`

	// Owner is populated by queries that join the users table.
	Owner *User `json:"-"`
}

// IsOneTime reports whether the task terminates after a single successful
// dispatch instead of cycling back for the next tick.
func (t *Task) IsOneTime() bool {
	return t.ScheduleType == ScheduleOnce
}

// TaskRef is the lightweight message published to the queue. Consumers must
// reload the full task from storage before acting on it.
type TaskRef struct {
	ID    int32    `json:"id"`
	Kind  TaskKind `json:"kind"`
	Title string   `json:"title"`
}

func NewTaskRef(t *Task) TaskRef {
	return TaskRef{
		ID:    t.ID,
		Kind:  t.Kind,
		Title: t.Title,
	}
}
