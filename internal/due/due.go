// Package due decides whether a task's schedule currently requires firing.
//
// The decision is a pure function over the schedule, the most recent log entry
// for the task's (account, destination) pair and the current time, so repeated
// evaluations within one scheduled window are idempotent.
package due

import (
	"time"

	"tgdispatch/internal/cronmark"
	"tgdispatch/internal/domain"
)

// Decision explains an evaluation. Mark is zero when the schedule is invalid.
type Decision struct {
	Due  bool
	Mark time.Time
	// FirstRun is set when no log entry exists for the pair.
	FirstRun bool
}

// Evaluator wraps a cron mark calculator.
type Evaluator struct {
	calc *cronmark.Calculator
}

func New(calc *cronmark.Calculator) *Evaluator {
	return &Evaluator{calc: calc}
}

// IsDue reports whether task must fire at now given the most recent log entry
// (nil when none exists).
//
// A task is due on its first-ever run, and otherwise iff the last attempt
// predates the most recent schedule mark. Failed attempts count as attempts:
// a retry waits for the next mark.
func (e *Evaluator) IsDue(task domain.Task, last *domain.LogEntry, now time.Time) (Decision, error) {
	mark, err := e.calc.MostRecent(task.Schedule, now)
	if err != nil {
		return Decision{}, &domain.ConfigError{Field: "schedule", Value: task.Schedule, Err: err}
	}
	if last == nil {
		return Decision{Due: true, Mark: mark, FirstRun: true}, nil
	}
	return Decision{Due: last.Timestamp.Before(mark), Mark: mark}, nil
}
