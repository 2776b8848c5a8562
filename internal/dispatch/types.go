package dispatch

import (
	"context"
	"time"

	"tgdispatch/internal/domain"
	"tgdispatch/internal/reschedule"
)

// TaskStore is the config store: the task sheet plus its write-back paths.
type TaskStore interface {
	LoadTasks(ctx context.Context) ([]domain.Task, error)
	SaveSchedules(ctx context.Context, updates []domain.ScheduleUpdate) error
	SaveOutcomes(ctx context.Context, outcomes []domain.Outcome) error
}

// LogStore is the append-only attempt log.
type LogStore interface {
	// MostRecent returns nil, nil when no entry exists.
	MostRecent(ctx context.Context, account, destination string) (*domain.LogEntry, error)
	Append(ctx context.Context, entry domain.LogEntry) error
}

// Publisher delivers the pass summary to operators.
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
}

// State is a task's position in the per-pass state machine.
type State int

const (
	StatePending State = iota
	StateDueCheck
	StateSkipped
	StateDispatching
	StateLoggedSuccess
	StateLoggedFailure
	// StateAborted means the task was not attempted: the pass was cancelled or
	// its log could not be read. Nothing is logged for it.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDueCheck:
		return "due_check"
	case StateSkipped:
		return "skipped"
	case StateDispatching:
		return "dispatching"
	case StateLoggedSuccess:
		return "success"
	case StateLoggedFailure:
		return "failure"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TaskReport is what one task produced in a pass.
type TaskReport struct {
	TaskID      string
	Row         int
	Account     string
	Destination string
	State       State
	Result      string
	Link        string
	Err         error
	// ConfigError is set when the row itself is malformed.
	ConfigError bool
	Deactivated bool
	// Schedule is the task's schedule after the pass.
	Schedule string
}

// Summary aggregates one pass.
type Summary struct {
	PassID      string
	Started     time.Time
	Finished    time.Time
	Processed   int
	Succeeded   int
	Skipped     int
	Failed      int
	Deactivated int
	Notices     []reschedule.Notice
	Reports     []TaskReport
}

// Failures returns the reports of tasks that did not succeed.
func (s Summary) Failures() []TaskReport {
	var out []TaskReport
	for _, r := range s.Reports {
		if r.Err != nil || r.Deactivated {
			out = append(out, r)
		}
	}
	return out
}

// Eventful reports whether the summary carries anything beyond skips.
func (s Summary) Eventful() bool {
	return s.Succeeded > 0 || s.Failed > 0 || s.Deactivated > 0 || len(s.Notices) > 0
}
