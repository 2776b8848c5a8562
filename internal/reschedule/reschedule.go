package reschedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tgdispatch/internal/cronmark"
	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

const (
	DefaultBufferFactor = 1.2
	DefaultMinInterval  = time.Hour
)

// UnrepresentableError means no cron cadence can guarantee the required spacing.
type UnrepresentableError struct {
	Expr     string
	Required time.Duration
}

func (e *UnrepresentableError) Error() string {
	return fmt.Sprintf("no cron cadence for %q spaces runs at least %s apart", e.Expr, e.Required)
}

// Saver persists rewritten schedules in one batch.
type Saver interface {
	SaveSchedules(ctx context.Context, updates []domain.ScheduleUpdate) error
}

type Options struct {
	// BufferFactor multiplies the reported minimum interval.
	BufferFactor float64
	// DefaultMinInterval applies when the transport reports no usable interval.
	DefaultMinInterval time.Duration
}

type Rescheduler struct {
	calc  *cronmark.Calculator
	saver Saver
	opt   Options
	log   logx.Logger
}

func New(calc *cronmark.Calculator, saver Saver, opt Options, log logx.Logger) *Rescheduler {
	if opt.BufferFactor < 1 {
		opt.BufferFactor = DefaultBufferFactor
	}
	if opt.DefaultMinInterval <= 0 {
		opt.DefaultMinInterval = DefaultMinInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Rescheduler{calc: calc, saver: saver, opt: opt, log: log}
}

// Required returns the spacing to enforce for a reported minimum interval.
func (r *Rescheduler) Required(minInterval time.Duration) time.Duration {
	if minInterval <= 0 {
		minInterval = r.opt.DefaultMinInterval
	}
	req := time.Duration(float64(minInterval) * r.opt.BufferFactor)
	return req.Round(time.Second)
}

// Change describes what happened to one task's schedule.
type Change struct {
	TaskID  string
	Row     int
	Account string
	Old     string
	New     string
	Changed bool
	Err     error
}

// Notice is the operator-facing report of one rate-limit observation. One is
// produced for every observation, including when nothing had to change.
type Notice struct {
	Chat        string
	MinInterval time.Duration
	Required    time.Duration
	At          time.Time
	Changes     []Change
}

// Rewritten returns the changes that altered a schedule.
func (n Notice) Rewritten() []Change {
	var out []Change
	for _, c := range n.Changes {
		if c.Changed {
			out = append(out, c)
		}
	}
	return out
}

func (n Notice) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rate limit in %s: wait %s between messages, schedules need %s spacing.",
		n.Chat, Humanize(n.MinInterval), Humanize(n.Required))
	if len(n.Rewritten()) == 0 {
		b.WriteString(" Existing schedules already satisfy it.")
	}
	for _, c := range n.Changes {
		b.WriteString("\n- task ")
		b.WriteString(c.TaskID)
		if c.Row > 0 {
			fmt.Fprintf(&b, " (row %d)", c.Row)
		}
		switch {
		case c.Err != nil:
			fmt.Fprintf(&b, ": %q kept, %v", c.Old, c.Err)
		case c.Changed:
			fmt.Fprintf(&b, ": %q -> %q", c.Old, c.New)
		default:
			fmt.Fprintf(&b, ": %q unchanged", c.Old)
		}
	}
	return b.String()
}

// ChangeText explains c on its own, for the task row it belongs to.
func (n Notice) ChangeText(c Change) string {
	head := fmt.Sprintf("Rate limit in %s (wait %s)", n.Chat, Humanize(n.MinInterval))
	switch {
	case c.Err != nil:
		return fmt.Sprintf("%s: schedule %q kept, %v", head, c.Old, c.Err)
	case c.Changed:
		return fmt.Sprintf("%s: schedule changed from %q to %q", head, c.Old, c.New)
	default:
		return fmt.Sprintf("%s: schedule %q already allows %s spacing", head, c.Old, Humanize(n.Required))
	}
}

// Humanize renders a wait such as "36 minutes".
func Humanize(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	var base time.Time
	return strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
}

// Apply enforces a minimum spacing on every active task addressed to chat.
// Rewritten schedules are stored on the tasks themselves so later readers in
// the same pass see them, then persisted in a single batch. Tasks with an
// unrepresentable interval carry an *UnrepresentableError in their Change.
// The returned notice is valid even when err is non-nil.
func (r *Rescheduler) Apply(ctx context.Context, chat string, minInterval time.Duration, tasks []*domain.Task, now time.Time) (Notice, error) {
	required := r.Required(minInterval)
	n := Notice{Chat: chat, MinInterval: minInterval, Required: required, At: now}

	var updates []domain.ScheduleUpdate
	for _, t := range tasks {
		if t == nil || domain.ChatOf(t.Destination) != chat || !t.Active {
			continue
		}
		c := Change{TaskID: t.ID, Row: t.Row, Account: t.Account, Old: t.Schedule, New: t.Schedule}

		cad, err := r.calc.Cadence(t.Schedule, now)
		if err != nil {
			c.Err = err
			n.Changes = append(n.Changes, c)
			continue
		}
		if cad.Shortest >= required {
			n.Changes = append(n.Changes, c)
			continue
		}

		expr, err := Rewrite(r.calc, t.Schedule, required, now)
		if err != nil {
			c.Err = err
			n.Changes = append(n.Changes, c)
			continue
		}
		t.Schedule = expr
		c.New, c.Changed = expr, true
		n.Changes = append(n.Changes, c)
		updates = append(updates, domain.ScheduleUpdate{TaskID: t.ID, Row: t.Row, Schedule: expr})
	}

	r.log.Info("rate limit observed",
		logx.String("chat", chat),
		logx.Duration("min_interval", minInterval),
		logx.Duration("required", required),
		logx.Int("tasks", len(n.Changes)),
		logx.Int("rewritten", len(updates)),
	)

	if len(updates) == 0 || r.saver == nil {
		return n, nil
	}
	if err := r.saver.SaveSchedules(ctx, updates); err != nil {
		return n, fmt.Errorf("save %d rewritten schedules for %s: %w", len(updates), chat, err)
	}
	return n, nil
}
