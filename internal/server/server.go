package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytesfield/schedula/internal/domain"
	"github.com/bytesfield/schedula/internal/errval"
)

type ServerLogic struct {
	storage           domain.Storage
	queueClient       domain.Queue
	tasksQueueName    string
	defaultMaxRetries int32

	now func() time.Time
}

func NewServerLogic(storage domain.Storage, queueClient domain.Queue, tasksQueueName string, defaultMaxRetries int32) *ServerLogic {
	return &ServerLogic{
		storage:           storage,
		queueClient:       queueClient,
		tasksQueueName:    tasksQueueName,
		defaultMaxRetries: defaultMaxRetries,
		now:               time.Now,
	}
}

func (s *ServerLogic) AddUser(ctx context.Context, req domain.RouterRequestAddUser) (*domain.User, error) {
	user, err := s.storage.InsertUser(ctx, &domain.User{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		if errors.Is(err, errval.ErrConflict) {
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.InsertUser", "error", err)
		return nil, errval.ErrInternal
	}

	return user, nil
}

// AddTask validates and persists a new pending task, then publishes its ref
// so the worker can arm a trigger right away instead of waiting for the next
// poll cycle. A publish failure is only logged: the poller will find the
// task once it is due.
func (s *ServerLogic) AddTask(ctx context.Context, req domain.RouterRequestAddTask) (*domain.Task, error) {
	task, err := s.buildTask(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.storage.GetUserByID(ctx, req.UserID); err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", errval.ErrNotFound, req.UserID)
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.GetUserByID", "error", err)
		return nil, errval.ErrInternal
	}

	inserted, err := s.storage.InsertTask(ctx, task)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while calling storage.InsertTask", "error", err)
		return nil, errval.ErrInternal
	}

	if err := s.queueClient.PublishTaskRef(s.tasksQueueName, domain.NewTaskRef(inserted)); err != nil {
		slog.Error("Error occurred while publishing newly created task, the poller will pick it up", "task_id", inserted.ID, "error", err.Error())
	}

	return inserted, nil
}

func (s *ServerLogic) buildTask(req domain.RouterRequestAddTask) (*domain.Task, error) {
	kind := domain.TaskKind(req.Kind)

	channel := domain.ChannelEmail
	if req.Channel != nil {
		channel = domain.NotificationChannel(*req.Channel)
	}

	maxRetries := s.defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	task := &domain.Task{
		UserID:         req.UserID,
		Title:          req.Title,
		Description:    req.Description,
		Kind:           kind,
		ScheduleType:   domain.ScheduleTypeFor(kind),
		CronExpression: req.CronExpression,
		Channel:        channel,
		Payload:        req.Payload,
		Status:         domain.Pending,
		MaxRetries:     maxRetries,
	}

	switch kind {
	case domain.KindCron:
		sched, err := domain.Classify(task)
		if err != nil {
			return nil, err
		}
		next := sched.Cron.Next(s.now())
		task.NextRunAt = &next
	case domain.KindTimestamp:
		if req.TriggerAtStamp == nil {
			return nil, fmt.Errorf("%w: trigger time is required for timestamp tasks", errval.ErrInvalidSchedule)
		}
		triggerAt := time.Unix(*req.TriggerAtStamp, 0)
		// At creation time the trigger must still be ahead of us; the looser
		// past-is-fine rule only applies downstream of the poller.
		if !triggerAt.After(s.now()) {
			return nil, fmt.Errorf("%w: trigger time must be in the future", errval.ErrInvalidSchedule)
		}
		task.NextRunAt = &triggerAt
	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", errval.ErrInvalidSchedule, req.Kind)
	}

	return task, nil
}

func (s *ServerLogic) GetTask(ctx context.Context, taskID int32) (*domain.Task, error) {
	task, err := s.storage.GetTaskByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.Info("task not found with the given id", "id", taskID)
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.GetTaskByID", "error", err)
		return nil, errval.ErrInternal
	}

	return task, nil
}

func (s *ServerLogic) GetUserTasks(ctx context.Context, userID int32) ([]*domain.Task, error) {
	tasks, err := s.storage.GetUserTasks(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while calling storage.GetUserTasks", "error", err)
		return nil, errval.ErrInternal
	}

	return tasks, nil
}

func (s *ServerLogic) UpdateTask(ctx context.Context, taskID int32, req domain.RouterRequestUpdateTask) (*domain.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.CronExpression != nil {
		if task.Kind != domain.KindCron {
			return nil, fmt.Errorf("%w: cron expression only applies to cron tasks", errval.ErrInvalidSchedule)
		}
		task.CronExpression = *req.CronExpression
	}
	if req.TriggerAtStamp != nil {
		if task.Kind != domain.KindTimestamp {
			return nil, fmt.Errorf("%w: trigger time only applies to timestamp tasks", errval.ErrInvalidSchedule)
		}
		triggerAt := time.Unix(*req.TriggerAtStamp, 0)
		task.NextRunAt = &triggerAt
	}
	if req.Payload != nil {
		task.Payload = req.Payload
	}

	if _, err := domain.Classify(task); err != nil {
		return nil, err
	}

	if err := s.storage.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.UpdateTask", "error", err)
		return nil, errval.ErrInternal
	}

	return task, nil
}

func (s *ServerLogic) DeleteTask(ctx context.Context, taskID int32) error {
	err := s.storage.DeleteTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			return err
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.DeleteTask", "error", err)
		return errval.ErrInternal
	}

	return nil
}

func (s *ServerLogic) GetTaskNotifications(ctx context.Context, taskID int32) ([]*domain.Notification, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	notifications, err := s.storage.GetTaskNotifications(ctx, taskID)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while calling storage.GetTaskNotifications", "error", err)
		return nil, errval.ErrInternal
	}

	return notifications, nil
}

func (s *ServerLogic) GetTaskStatusHistory(ctx context.Context, taskID int32) ([]*domain.TaskStatusChangeHistory, error) {
	taskHistory, err := s.storage.GetTaskStatusChangeHistory(ctx, taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.Info("history not found for the given task id", "task_id", taskID)
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.GetTaskStatusChangeHistory", "error", err)
		return nil, errval.ErrInternal
	}

	return taskHistory, nil
}
