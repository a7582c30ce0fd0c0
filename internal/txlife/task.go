package txlife

import (
	"context"
	"time"
)

// Timer is the handle returned by a Scheduler.
type Timer interface{ Stop() bool }

// Scheduler runs f after d. Tests swap in a manual scheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// WallClock schedules on real timers.
func WallClock() Scheduler { return wallClock{} }

// Task is a bounded re-read loop. Predicate returns true once chain state has
// caught up; errors count as a failed attempt.
type Task struct {
	Interval    time.Duration
	MaxAttempts int
	Predicate   func(ctx context.Context) (bool, error)
}

// TaskResult is reported once when the task stops.
type TaskResult struct {
	Attempts  int
	Converged bool
	LastErr   error
}

// Run schedules the first attempt after delay and the rest every Interval
// until the predicate holds, attempts run out, or ctx ends.
func (t Task) Run(ctx context.Context, sched Scheduler, delay time.Duration, done func(TaskResult)) {
	if t.Predicate == nil || t.MaxAttempts <= 0 {
		if done != nil {
			done(TaskResult{})
		}
		return
	}
	var attempt func()
	res := TaskResult{}
	finish := func() {
		if done != nil {
			done(res)
		}
	}
	attempt = func() {
		if err := ctx.Err(); err != nil {
			res.LastErr = err
			finish()
			return
		}
		res.Attempts++
		ok, err := t.Predicate(ctx)
		if err != nil {
			res.LastErr = err
		}
		if ok {
			res.Converged = true
			finish()
			return
		}
		if res.Attempts >= t.MaxAttempts {
			finish()
			return
		}
		sched.AfterFunc(t.Interval, attempt)
	}
	sched.AfterFunc(delay, attempt)
}
