// Package trigger maps task ids to armed triggers: a one-shot timer for
// timestamp tasks or a repeating cron schedule for cron tasks. At most one
// trigger is armed per task id; arming replaces (cancels) any prior trigger
// for the same id, which is the concurrency boundary that keeps duplicate
// queue deliveries from firing a task twice in parallel.
package trigger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bytesfield/schedula/internal/domain"
	"github.com/bytesfield/schedula/internal/errval"
)

// Callback is invoked on its own goroutine at each fire instant, so slow
// dispatch I/O never delays other tasks' fire times.
type Callback func(taskID int32)

type armedTrigger struct {
	stop chan struct{}
}

type Scheduler struct {
	mu     sync.Mutex
	armed  map[int32]*armedTrigger
	closed bool

	now func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		armed: map[int32]*armedTrigger{},
		now:   time.Now,
	}
}

// NewSchedulerWithClock injects the clock, for tests.
func NewSchedulerWithClock(now func() time.Time) *Scheduler {
	s := NewScheduler()
	s.now = now
	return s
}

// Arm registers a trigger for the task, replacing any existing one. A
// one-shot instant in the past fires immediately (catch-up, not skip).
func (s *Scheduler) Arm(taskID int32, sched domain.Schedule, callback Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errval.ErrSchedulingRejected
	}

	if prev, ok := s.armed[taskID]; ok {
		close(prev.stop)
		slog.Info("Replacing armed trigger", "task_id", taskID)
	}

	armed := &armedTrigger{stop: make(chan struct{})}
	s.armed[taskID] = armed

	if sched.IsCron() {
		go s.runCron(taskID, sched, callback, armed)
	} else {
		go s.runOneShot(taskID, sched.At, callback, armed)
	}

	return nil
}

// ArmOneShot arms a single fire instant. It is what the execution engine
// uses to re-arm a task-level retry in process.
func (s *Scheduler) ArmOneShot(taskID int32, at time.Time, fire func(taskID int32)) error {
	return s.Arm(taskID, domain.Schedule{Kind: domain.KindTimestamp, At: at}, fire)
}

// Cancel removes a pending or repeating trigger; it is a no-op if the task
// has no armed trigger.
func (s *Scheduler) Cancel(taskID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if armed, ok := s.armed[taskID]; ok {
		close(armed.stop)
		delete(s.armed, taskID)
	}
}

// Len returns the number of currently armed triggers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// Shutdown cancels every armed trigger and rejects further arming.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for taskID, armed := range s.armed {
		close(armed.stop)
		delete(s.armed, taskID)
	}
}

func (s *Scheduler) runOneShot(taskID int32, at time.Time, callback Callback, armed *armedTrigger) {
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-armed.stop:
		return
	case <-timer.C:
		s.unregister(taskID, armed)
		go callback(taskID)
	}
}

func (s *Scheduler) runCron(taskID int32, sched domain.Schedule, callback Callback, armed *armedTrigger) {
	for {
		next := sched.Cron.Next(s.now())
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-armed.stop:
			timer.Stop()
			return
		case <-timer.C:
			go callback(taskID)
		}
	}
}

// unregister removes the trigger only if it is still the current one for the
// task; a replacement armed meanwhile stays in place.
func (s *Scheduler) unregister(taskID int32, armed *armedTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.armed[taskID]; ok && current == armed {
		delete(s.armed, taskID)
	}
}
