// Package poller finds due tasks on a fixed cadence and hands them to the
// queue. Publishing comes first and the status update second: a failed
// publish leaves the task due so the next cycle retries it, while a failed
// update after a successful publish only causes a duplicate delivery, which
// consumers tolerate.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/bytesfield/schedula/internal/domain"
)

type Service struct {
	storage    domain.Storage
	queue      domain.Queue
	queueName  string
	interval   time.Duration
	batchLimit int32
	stop       chan struct{}

	now func() time.Time
}

func NewService(storage domain.Storage, queue domain.Queue, queueName string, interval time.Duration, batchLimit int32) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}

	return &Service{
		storage:    storage,
		queue:      queue,
		queueName:  queueName,
		interval:   interval,
		batchLimit: batchLimit,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
}

// SetClock injects the clock, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs the poll loop until the context is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Due-task poller started", "interval", s.interval, "queue", s.queueName)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}

func (s *Service) Stop() {
	close(s.stop)
}

// PollOnce runs a single poll cycle: find every due task, publish its ref,
// then conditionally mark it queued. Ordering across tasks is unspecified.
func (s *Service) PollOnce(ctx context.Context) {
	now := s.now()
	dueTasks, err := s.storage.FindDueTasks(ctx, now, s.batchLimit)
	if err != nil {
		slog.Error("Failed to query due tasks", "error", err.Error())
		return
	}

	if len(dueTasks) == 0 {
		return
	}
	slog.Info("Due tasks found", "count", len(dueTasks))

	for _, task := range dueTasks {
		if err := s.queue.PublishTaskRef(s.queueName, domain.NewTaskRef(task)); err != nil {
			// Leave the status untouched so the task stays due and is
			// retried on the next cycle.
			slog.Error("Failed to publish due task, it stays due", "task_id", task.ID, "error", err.Error())
			continue
		}

		updated, err := s.storage.SetTaskStatusIfIn(ctx, task.ID,
			[]domain.TaskStatus{domain.Pending, domain.Processing}, domain.Queued)
		if err != nil {
			// Published but not marked: the consumer will see this id again
			// on the next cycle and must dedupe.
			slog.Error("Failed to mark published task as queued", "task_id", task.ID, "error", err.Error())
			continue
		}
		if !updated {
			slog.Info("Task status changed between poll and update", "task_id", task.ID)
			continue
		}

		slog.Info("Due task published", "task_id", task.ID, "kind", task.Kind)
	}
}
