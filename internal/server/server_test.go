package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bytesfield/schedula/internal/domain"
	"github.com/bytesfield/schedula/internal/errval"
)

type fakeStorage struct {
	domain.Storage

	user *domain.User
	task *domain.Task

	insertedTask *domain.Task
	insertErr    error
}

func (f *fakeStorage) GetUserByID(_ context.Context, id int32) (*domain.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, errval.ErrNotFound
	}
	return f.user, nil
}

func (f *fakeStorage) GetTaskByID(_ context.Context, id int32) (*domain.Task, error) {
	if f.task == nil || f.task.ID != id {
		return nil, errval.ErrNotFound
	}
	copied := *f.task
	return &copied, nil
}

func (f *fakeStorage) InsertTask(_ context.Context, task *domain.Task) (*domain.Task, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	inserted := *task
	inserted.ID = 1
	f.insertedTask = &inserted
	return &inserted, nil
}

func (f *fakeStorage) UpdateTask(_ context.Context, task *domain.Task) error {
	copied := *task
	f.task = &copied
	return nil
}

type fakeQueue struct {
	domain.Queue

	published  []domain.TaskRef
	publishErr error
}

func (f *fakeQueue) PublishTaskRef(_ string, ref domain.TaskRef) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, ref)
	return nil
}

func newLogic(storage *fakeStorage, queue *fakeQueue, now time.Time) *ServerLogic {
	s := NewServerLogic(storage, queue, "task.queue", 3)
	s.now = func() time.Time { return now }
	return s
}

func strPtr(s string) *string { return &s }

func TestAddTask_CronComputesNextRun(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	storage := &fakeStorage{user: &domain.User{ID: 7}}
	queue := &fakeQueue{}
	s := newLogic(storage, queue, now)

	task, err := s.AddTask(context.Background(), domain.RouterRequestAddTask{
		UserID:         7,
		Title:          "daily digest",
		Kind:           "cron",
		CronExpression: "0 0 * * *",
		Payload:        map[string]string{},
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.Pending, task.Status)
	assert.Equal(t, domain.ScheduleRecurring, task.ScheduleType)
	assert.Equal(t, domain.ChannelEmail, task.Channel)
	assert.Equal(t, int32(3), task.MaxRetries)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), *task.NextRunAt)

	// The ref is published eagerly so the worker can arm it before the task
	// is due.
	assert.Len(t, queue.published, 1)
	assert.Equal(t, task.ID, queue.published[0].ID)
}

func TestAddTask_TimestampRequiresFutureInstant(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	storage := &fakeStorage{user: &domain.User{ID: 7}}
	s := newLogic(storage, &fakeQueue{}, now)

	past := now.Add(-time.Minute).Unix()
	_, err := s.AddTask(context.Background(), domain.RouterRequestAddTask{
		UserID:         7,
		Title:          "reminder",
		Kind:           "timestamp",
		TriggerAtStamp: &past,
		Payload:        map[string]string{},
	})
	assert.ErrorIs(t, err, errval.ErrInvalidSchedule)

	future := now.Add(time.Hour).Unix()
	task, err := s.AddTask(context.Background(), domain.RouterRequestAddTask{
		UserID:         7,
		Title:          "reminder",
		Kind:           "timestamp",
		TriggerAtStamp: &future,
		Payload:        map[string]string{},
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.ScheduleOnce, task.ScheduleType)
	assert.Equal(t, future, task.NextRunAt.Unix())
}

func TestAddTask_TimestampWithoutInstantIsRejected(t *testing.T) {
	storage := &fakeStorage{user: &domain.User{ID: 7}}
	s := newLogic(storage, &fakeQueue{}, time.Now())

	_, err := s.AddTask(context.Background(), domain.RouterRequestAddTask{
		UserID:  7,
		Title:   "reminder",
		Kind:    "timestamp",
		Payload: map[string]string{},
	})
	assert.ErrorIs(t, err, errval.ErrInvalidSchedule)
}

func TestAddTask_UnknownUser(t *testing.T) {
	s := newLogic(&fakeStorage{}, &fakeQueue{}, time.Now())

	future := time.Now().Add(time.Hour).Unix()
	_, err := s.AddTask(context.Background(), domain.RouterRequestAddTask{
		UserID:         99,
		Title:          "reminder",
		Kind:           "timestamp",
		TriggerAtStamp: &future,
		Payload:        map[string]string{},
	})
	assert.ErrorIs(t, err, errval.ErrNotFound)
}

func TestAddTask_PublishFailureStillCreatesTask(t *testing.T) {
	storage := &fakeStorage{user: &domain.User{ID: 7}}
	queue := &fakeQueue{publishErr: errors.New("broker unavailable")}
	s := newLogic(storage, queue, time.Now())

	future := time.Now().Add(time.Hour).Unix()
	task, err := s.AddTask(context.Background(), domain.RouterRequestAddTask{
		UserID:         7,
		Title:          "reminder",
		Kind:           "timestamp",
		TriggerAtStamp: &future,
		Payload:        map[string]string{},
	})

	assert.NoError(t, err)
	assert.NotNil(t, storage.insertedTask)
	assert.Equal(t, domain.Pending, task.Status)
}

func TestUpdateTask_RejectsCronExpressionOnTimestampTask(t *testing.T) {
	next := time.Now().Add(time.Hour)
	storage := &fakeStorage{task: &domain.Task{
		ID:        5,
		Kind:      domain.KindTimestamp,
		NextRunAt: &next,
	}}
	s := newLogic(storage, &fakeQueue{}, time.Now())

	_, err := s.UpdateTask(context.Background(), 5, domain.RouterRequestUpdateTask{
		CronExpression: strPtr("0 0 * * *"),
	})
	assert.ErrorIs(t, err, errval.ErrInvalidSchedule)
}

func TestUpdateTask_PatchesFields(t *testing.T) {
	storage := &fakeStorage{task: &domain.Task{
		ID:             5,
		Title:          "old title",
		Kind:           domain.KindCron,
		CronExpression: "0 0 * * *",
	}}
	s := newLogic(storage, &fakeQueue{}, time.Now())

	updated, err := s.UpdateTask(context.Background(), 5, domain.RouterRequestUpdateTask{
		Title:          strPtr("new title"),
		CronExpression: strPtr("*/10 * * * *"),
	})

	assert.NoError(t, err)
	assert.Equal(t, "new title", updated.Title)
	assert.Equal(t, "*/10 * * * *", updated.CronExpression)
	assert.Equal(t, "new title", storage.task.Title)
}

func TestUpdateTask_InvalidCronRejected(t *testing.T) {
	storage := &fakeStorage{task: &domain.Task{
		ID:             5,
		Kind:           domain.KindCron,
		CronExpression: "0 0 * * *",
	}}
	s := newLogic(storage, &fakeQueue{}, time.Now())

	_, err := s.UpdateTask(context.Background(), 5, domain.RouterRequestUpdateTask{
		CronExpression: strPtr("not a schedule"),
	})
	assert.ErrorIs(t, err, errval.ErrInvalidSchedule)
	assert.Equal(t, "0 0 * * *", storage.task.CronExpression)
}

func TestGetTask_NotFound(t *testing.T) {
	s := newLogic(&fakeStorage{}, &fakeQueue{}, time.Now())

	_, err := s.GetTask(context.Background(), 404)
	assert.ErrorIs(t, err, errval.ErrNotFound)
}
