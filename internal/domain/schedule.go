package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bytesfield/schedula/internal/errval"
)

// cronParser accepts the standard five fields with an optional leading
// seconds field, so both "*/5 * * * *" and "*/5 * * * * *" parse.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is the tagged result of classifying a task: either a repeating
// cron schedule or a single fire instant. It is the one shape the poller-side
// validation, the consumer and the engine all branch on.
type Schedule struct {
	Kind TaskKind
	Cron cron.Schedule
	Expr string
	At   time.Time
}

func (s Schedule) IsCron() bool {
	return s.Kind == KindCron
}

// Classify validates a task's scheduling configuration and returns its
// Schedule. Misconfigured tasks (bad cron expression, timestamp task without
// a next run time) yield errval.ErrInvalidSchedule.
func Classify(t *Task) (Schedule, error) {
	switch t.Kind {
	case KindCron:
		sched, err := cronParser.Parse(t.CronExpression)
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: cron expression %q: %v", errval.ErrInvalidSchedule, t.CronExpression, err)
		}
		return Schedule{Kind: KindCron, Cron: sched, Expr: t.CronExpression}, nil
	case KindTimestamp:
		// A past instant is fine here: the poller already confirmed the task
		// is due, the trigger just fires immediately.
		if t.NextRunAt == nil {
			return Schedule{}, fmt.Errorf("%w: timestamp task has no next run time", errval.ErrInvalidSchedule)
		}
		return Schedule{Kind: KindTimestamp, At: *t.NextRunAt}, nil
	default:
		return Schedule{}, fmt.Errorf("%w: unknown task kind %q", errval.ErrInvalidSchedule, t.Kind)
	}
}

// IsValidCron reports whether the expression parses with the same parser the
// trigger scheduler uses.
func IsValidCron(expr string) bool {
	_, err := cronParser.Parse(expr)
	return err == nil
}

// ScheduleTypeFor derives the schedule type from the task kind: cron tasks
// recur, timestamp tasks fire once.
func ScheduleTypeFor(kind TaskKind) ScheduleType {
	if kind == KindCron {
		return ScheduleRecurring
	}
	return ScheduleOnce
}
