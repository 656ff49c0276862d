package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bytesfield/schedula/internal/domain"
)

type fakeStorage struct {
	domain.Storage

	dueTasks      []*domain.Task
	findErr       error
	statusUpdates map[int32]domain.TaskStatus
	updateErr     error
}

func (f *fakeStorage) FindDueTasks(_ context.Context, _ time.Time, _ int32) ([]*domain.Task, error) {
	return f.dueTasks, f.findErr
}

func (f *fakeStorage) SetTaskStatusIfIn(_ context.Context, taskID int32, _ []domain.TaskStatus, newStatus domain.TaskStatus) (bool, error) {
	if f.updateErr != nil {
		return false, f.updateErr
	}
	if f.statusUpdates == nil {
		f.statusUpdates = map[int32]domain.TaskStatus{}
	}
	f.statusUpdates[taskID] = newStatus
	return true, nil
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

func dueTask(id int32) *domain.Task {
	next := time.Now().Add(-time.Second)
	return &domain.Task{
		ID:        id,
		Title:     "due task",
		Kind:      domain.KindTimestamp,
		Status:    domain.Pending,
		NextRunAt: &next,
	}
}

func TestPollOnce_PublishesAndMarksQueued(t *testing.T) {
	storage := &fakeStorage{dueTasks: []*domain.Task{dueTask(1), dueTask(2)}}
	queue := &fakeQueue{}
	s := NewService(storage, queue, "task.queue", time.Second, 10)

	s.PollOnce(context.Background())

	assert.Len(t, queue.published, 2)
	assert.Equal(t, int32(1), queue.published[0].ID)
	assert.Equal(t, int32(2), queue.published[1].ID)
	assert.Equal(t, domain.Queued, storage.statusUpdates[1])
	assert.Equal(t, domain.Queued, storage.statusUpdates[2])
}

// A failed publish must leave the task due: skipping the status update means
// the next cycle retries it instead of silently dropping it.
func TestPollOnce_PublishFailureSkipsStatusUpdate(t *testing.T) {
	storage := &fakeStorage{dueTasks: []*domain.Task{dueTask(1)}}
	queue := &fakeQueue{publishErr: errors.New("broker unavailable")}
	s := NewService(storage, queue, "task.queue", time.Second, 10)

	s.PollOnce(context.Background())

	assert.Empty(t, queue.published)
	assert.Empty(t, storage.statusUpdates)
}

func TestPollOnce_NoDueTasksIsNoOp(t *testing.T) {
	storage := &fakeStorage{}
	queue := &fakeQueue{}
	s := NewService(storage, queue, "task.queue", time.Second, 10)

	s.PollOnce(context.Background())

	assert.Empty(t, queue.published)
	assert.Empty(t, storage.statusUpdates)
}

func TestPollOnce_QueryFailureDoesNotPublish(t *testing.T) {
	storage := &fakeStorage{findErr: errors.New("connection refused")}
	queue := &fakeQueue{}
	s := NewService(storage, queue, "task.queue", time.Second, 10)

	s.PollOnce(context.Background())

	assert.Empty(t, queue.published)
}

// The publish went through but the status write failed: duplicate delivery
// is expected and left for the consumer to dedupe.
func TestPollOnce_UpdateFailureStillPublishes(t *testing.T) {
	storage := &fakeStorage{dueTasks: []*domain.Task{dueTask(1)}, updateErr: errors.New("store down")}
	queue := &fakeQueue{}
	s := NewService(storage, queue, "task.queue", time.Second, 10)

	s.PollOnce(context.Background())

	assert.Len(t, queue.published, 1)
}
