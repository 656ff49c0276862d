package engine

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

	task *domain.Task

	maxAttempt    int32
	attempts      []*domain.Notification
	finished      []*domain.Notification
	savedRuns     []*domain.Task
	statusChanges []domain.TaskStatus
}

func (f *fakeStorage) GetTaskByID(_ context.Context, id int32) (*domain.Task, error) {
	if f.task == nil || f.task.ID != id {
		return nil, errval.ErrNotFound
	}
	copied := *f.task
	return &copied, nil
}

func (f *fakeStorage) MaxAttemptNumber(_ context.Context, _ int32) (int32, error) {
	return f.maxAttempt, nil
}

func (f *fakeStorage) InsertNotification(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	inserted := *n
	inserted.ID = int32(len(f.attempts) + 1)
	f.attempts = append(f.attempts, &inserted)
	f.maxAttempt = inserted.AttemptNumber
	return &inserted, nil
}

func (f *fakeStorage) FinishNotification(_ context.Context, n *domain.Notification) error {
	copied := *n
	f.finished = append(f.finished, &copied)
	return nil
}

func (f *fakeStorage) SaveTaskRun(_ context.Context, task *domain.Task) error {
	copied := *task
	f.savedRuns = append(f.savedRuns, &copied)
	f.task = &copied
	return nil
}

func (f *fakeStorage) UpdateTaskStatusAndLogChangeInTx(_ context.Context, _ int32, _, newStatus domain.TaskStatus) error {
	f.statusChanges = append(f.statusChanges, newStatus)
	return nil
}

type fakeDispatcher struct {
	calls     int
	failFirst int
	permanent bool
	err       error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ domain.SendEmailData) (*domain.DispatchResponse, error) {
	f.calls++
	if f.permanent {
		return &domain.DispatchResponse{StatusCode: 400, Body: "bad request"}, f.err
	}
	if f.calls <= f.failFirst {
		return &domain.DispatchResponse{StatusCode: 503, Body: "unavailable"}, f.err
	}
	return &domain.DispatchResponse{StatusCode: 202, Body: "accepted"}, nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(_ string, vars map[string]string) (string, error) {
	return "<p>" + vars["taskTitle"] + "</p>", nil
}

type fakeTriggers struct {
	armed     map[int32]time.Time
	cancelled []int32
	armErr    error
}

func (f *fakeTriggers) ArmOneShot(taskID int32, at time.Time, _ func(int32)) error {
	if f.armErr != nil {
		return f.armErr
	}
	if f.armed == nil {
		f.armed = map[int32]time.Time{}
	}
	f.armed[taskID] = at
	return nil
}

func (f *fakeTriggers) Cancel(taskID int32) {
	f.cancelled = append(f.cancelled, taskID)
}

func testTask(kind domain.TaskKind) *domain.Task {
	next := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Task{
		ID:           42,
		Title:        "send report",
		Kind:         kind,
		ScheduleType: domain.ScheduleTypeFor(kind),
		Channel:      domain.ChannelEmail,
		Status:       domain.Queued,
		MaxRetries:   3,
		NextRunAt:    &next,
		Owner:        &domain.User{ID: 7, Email: "dana@example.com", FirstName: "Dana"},
	}
}

func newTestEngine(storage *fakeStorage, dispatcher *fakeDispatcher, triggers *fakeTriggers, now time.Time) *Engine {
	e := New(storage, dispatcher, fakeRenderer{}, triggers, Config{
		RetryDelay:         10 * time.Second,
		DispatchMaxRetries: 3,
		DispatchBackoff:    time.Millisecond,
	})
	e.SetClock(func() time.Time { return now })
	return e
}

func TestFire_OneShotSuccess(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)
	storage := &fakeStorage{task: testTask(domain.KindTimestamp)}
	dispatcher := &fakeDispatcher{}
	triggers := &fakeTriggers{}
	e := newTestEngine(storage, dispatcher, triggers, now)

	e.Fire(42)

	assert.Equal(t, 1, dispatcher.calls)
	assert.Len(t, storage.finished, 1)
	attempt := storage.finished[0]
	assert.Equal(t, int32(1), attempt.AttemptNumber)
	assert.Equal(t, domain.NotificationSent, attempt.Status)
	assert.Equal(t, now, *attempt.SentAt)
	assert.Equal(t, int32(202), attempt.ResponseStatus)

	assert.Equal(t, domain.Completed, storage.task.Status)
	assert.True(t, storage.task.Completed)
	assert.Empty(t, triggers.armed)
}

func TestFire_TransientFailureSchedulesTaskRetry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)
	task := testTask(domain.KindCron)
	task.CronExpression = "*/5 * * * * *"
	prevNextRun := *task.NextRunAt

	storage := &fakeStorage{task: task}
	dispatcher := &fakeDispatcher{failFirst: 99, err: errors.New("connection reset")}
	triggers := &fakeTriggers{}
	e := newTestEngine(storage, dispatcher, triggers, now)

	e.Fire(42)

	// Three immediate dispatch attempts before the failure surfaces.
	assert.Equal(t, 3, dispatcher.calls)

	attempt := storage.finished[0]
	assert.Equal(t, domain.NotificationFailed, attempt.Status)
	assert.Contains(t, attempt.ErrorMessage, "connection reset")
	assert.Nil(t, attempt.SentAt)

	assert.Equal(t, int32(1), storage.task.RetryCount)
	assert.Equal(t, domain.Processing, storage.task.Status)
	assert.Equal(t, prevNextRun, *storage.task.LastRunAt)
	assert.Equal(t, now.Add(10*time.Second), *storage.task.NextRunAt)
	assert.Equal(t, now.Add(10*time.Second), triggers.armed[42])
}

// The historical collapse: once retries are exhausted the task lands in
// "completed" even though every dispatch failed.
func TestFire_RetryExhaustionCollapsesToCompleted(t *testing.T) {
	now := time.Now()
	task := testTask(domain.KindCron)
	task.RetryCount = 3

	storage := &fakeStorage{task: task, maxAttempt: 3}
	dispatcher := &fakeDispatcher{failFirst: 99, err: errors.New("still down")}
	triggers := &fakeTriggers{}
	e := newTestEngine(storage, dispatcher, triggers, now)

	e.Fire(42)

	// 1 initial + 3 task-level retries = 4 attempts in total.
	assert.Equal(t, int32(4), storage.finished[0].AttemptNumber)
	assert.Equal(t, domain.Completed, storage.task.Status)
	assert.True(t, storage.task.Completed)
	assert.Empty(t, triggers.armed)
}

func TestFire_ExhaustedStatusIsConfigurable(t *testing.T) {
	task := testTask(domain.KindCron)
	task.RetryCount = 3

	storage := &fakeStorage{task: task, maxAttempt: 3}
	dispatcher := &fakeDispatcher{failFirst: 99, err: errors.New("still down")}
	e := New(storage, dispatcher, fakeRenderer{}, &fakeTriggers{}, Config{
		DispatchBackoff: time.Millisecond,
		ExhaustedStatus: domain.Failed,
	})

	e.Fire(42)

	assert.Equal(t, domain.Failed, storage.task.Status)
	assert.False(t, storage.task.Completed)
}

func TestFire_RecurringSuccessCyclesThroughRetryBookkeeping(t *testing.T) {
	now := time.Now()
	storage := &fakeStorage{task: testTask(domain.KindCron)}
	dispatcher := &fakeDispatcher{}
	triggers := &fakeTriggers{}
	e := newTestEngine(storage, dispatcher, triggers, now)

	e.Fire(42)

	assert.Equal(t, domain.NotificationSent, storage.finished[0].Status)
	// A recurring task does not complete on success; it cycles back through
	// the retry counter like the original pipeline does.
	assert.Equal(t, int32(1), storage.task.RetryCount)
	assert.Equal(t, domain.Processing, storage.task.Status)
}

func TestFire_AttemptNumbersAreStrictlyIncreasing(t *testing.T) {
	storage := &fakeStorage{task: testTask(domain.KindCron)}
	dispatcher := &fakeDispatcher{}
	e := newTestEngine(storage, dispatcher, &fakeTriggers{}, time.Now())

	e.Fire(42)
	e.Fire(42)
	e.Fire(42)

	assert.Len(t, storage.attempts, 3)
	for i, attempt := range storage.attempts {
		assert.Equal(t, int32(i+1), attempt.AttemptNumber)
	}
}

func TestFire_TransientThenSuccessWithinInnerRetries(t *testing.T) {
	storage := &fakeStorage{task: testTask(domain.KindTimestamp)}
	dispatcher := &fakeDispatcher{failFirst: 2, err: errors.New("flaky provider")}
	e := newTestEngine(storage, dispatcher, &fakeTriggers{}, time.Now())

	e.Fire(42)

	assert.Equal(t, 3, dispatcher.calls)
	assert.Equal(t, domain.NotificationSent, storage.finished[0].Status)
	assert.Equal(t, domain.Completed, storage.task.Status)
}

// A 4xx-class provider response is not worth hammering: the inner retry
// treats it as permanent.
func TestFire_PermanentProviderErrorIsNotRetriedInner(t *testing.T) {
	storage := &fakeStorage{task: testTask(domain.KindTimestamp)}
	dispatcher := &fakeDispatcher{permanent: true, err: errors.New("unknown recipient")}
	e := newTestEngine(storage, dispatcher, &fakeTriggers{}, time.Now())

	e.Fire(42)

	assert.Equal(t, 1, dispatcher.calls)
	assert.Equal(t, domain.NotificationFailed, storage.finished[0].Status)
	assert.Equal(t, int32(400), storage.finished[0].ResponseStatus)
}

func TestFire_MissingChannelFailsTask(t *testing.T) {
	task := testTask(domain.KindTimestamp)
	task.Channel = ""

	storage := &fakeStorage{task: task}
	dispatcher := &fakeDispatcher{}
	e := newTestEngine(storage, dispatcher, &fakeTriggers{}, time.Now())

	e.Fire(42)

	assert.Equal(t, 0, dispatcher.calls)
	assert.Empty(t, storage.attempts)
	assert.Equal(t, []domain.TaskStatus{domain.Failed}, storage.statusChanges)
}

func TestFire_VanishedTaskDropsTrigger(t *testing.T) {
	storage := &fakeStorage{}
	triggers := &fakeTriggers{}
	e := newTestEngine(storage, &fakeDispatcher{}, triggers, time.Now())

	e.Fire(42)

	assert.Equal(t, []int32{42}, triggers.cancelled)
	assert.Empty(t, storage.attempts)
}

func TestFire_CompletedTaskDropsTrigger(t *testing.T) {
	task := testTask(domain.KindTimestamp)
	task.Completed = true
	task.Status = domain.Completed

	storage := &fakeStorage{task: task}
	dispatcher := &fakeDispatcher{}
	triggers := &fakeTriggers{}
	e := newTestEngine(storage, dispatcher, triggers, time.Now())

	e.Fire(42)

	assert.Equal(t, 0, dispatcher.calls)
	assert.Equal(t, []int32{42}, triggers.cancelled)
}
