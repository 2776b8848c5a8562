package cronmark

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// maxLookback bounds the backwards search. Leap-day schedules fire at most
	// every 8 years.
	maxLookback = 9 * 366 * 24 * time.Hour

	// CadenceHorizon is the window used to estimate cadence.
	CadenceHorizon = 7 * 24 * time.Hour

	maxCadenceSamples = 2048
)

var errNeverFires = errors.New("expression never fires")

// InvalidScheduleError reports a cron expression that cannot be parsed or that
// never fires.
type InvalidScheduleError struct {
	Expr string
	Err  error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %v", e.Expr, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// Calculator evaluates cron expressions in a fixed location.
// It is safe for concurrent use.
type Calculator struct {
	parser cron.Parser
	loc    *time.Location
}

// New returns a Calculator for loc (UTC when nil).
func New(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		// Strict 5-field crontab: minute hour dom month dow.
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		loc:    loc,
	}
}

// Location returns the operating timezone.
func (c *Calculator) Location() *time.Location { return c.loc }

// Parse validates expr and returns its schedule bound to the operating timezone.
func (c *Calculator) Parse(expr string) (cron.Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, &InvalidScheduleError{Expr: expr, Err: errors.New("empty expression")}
	}
	if strings.HasPrefix(s, "TZ=") || strings.HasPrefix(s, "CRON_TZ=") {
		return nil, &InvalidScheduleError{Expr: expr, Err: errors.New("per-expression timezones are not supported")}
	}
	sched, err := c.parser.Parse(normalizeSunday(s))
	if err != nil {
		return nil, &InvalidScheduleError{Expr: expr, Err: err}
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok {
		ss.Location = c.loc
	}
	return sched, nil
}

// normalizeSunday rewrites day-of-week 7 as 0, which robfig/cron rejects.
func normalizeSunday(expr string) string {
	f := strings.Fields(expr)
	if len(f) != 5 || !strings.Contains(f[4], "7") {
		return expr
	}
	items := strings.Split(f[4], ",")
	out := make([]string, 0, len(items)+1)
	for _, item := range items {
		rng, step, hasStep := strings.Cut(item, "/")
		lo, hi, isRange := strings.Cut(rng, "-")
		switch {
		case rng == "7":
			out = append(out, "0")
		case isRange && hi == "7":
			from, err := strconv.Atoi(lo)
			n := 1
			if hasStep {
				n, _ = strconv.Atoi(step)
			}
			if err != nil || n <= 0 || from > 7 {
				out = append(out, item)
				continue
			}
			if from == 7 {
				out = append(out, "0")
				continue
			}
			r := lo + "-6"
			if hasStep {
				r += "/" + step
			}
			out = append(out, r)
			if from > 0 && (7-from)%n == 0 {
				out = append(out, "0")
			}
		default:
			out = append(out, item)
		}
	}
	f[4] = strings.Join(out, ",")
	return strings.Join(f, " ")
}

// Validate reports whether expr parses and fires at least once.
func (c *Calculator) Validate(expr string) error {
	_, err := c.MostRecent(expr, time.Now())
	return err
}

// MostRecent returns the latest instant described by expr that is <= now.
//
// robfig/cron only walks forward, so the search widens a lookback window
// (doubling from one minute) until the first activation after now-window is
// not after now, then walks forward to the last activation <= now.
func (c *Calculator) MostRecent(expr string, now time.Time) (time.Time, error) {
	sched, err := c.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	now = now.In(c.loc)

	for w := time.Minute; w <= 2*maxLookback; w *= 2 {
		n := sched.Next(now.Add(-w))
		if n.IsZero() || n.After(now) {
			continue
		}
		for {
			nx := sched.Next(n)
			if nx.IsZero() || nx.After(now) {
				return n, nil
			}
			n = nx
		}
	}
	return time.Time{}, &InvalidScheduleError{Expr: expr, Err: errNeverFires}
}

// Cadence summarizes how often an expression fires.
type Cadence struct {
	Average  time.Duration
	Shortest time.Duration
	Samples  int
}

// Cadence samples activations of expr in [from, from+CadenceHorizon].
// Expressions that fire fewer than twice in the horizon are treated as weekly.
func (c *Calculator) Cadence(expr string, from time.Time) (Cadence, error) {
	sched, err := c.Parse(expr)
	if err != nil {
		return Cadence{}, err
	}
	from = from.In(c.loc)
	end := from.Add(CadenceHorizon)

	var (
		prev     time.Time
		shortest time.Duration
		first    time.Time
		n        int
	)
	for t := sched.Next(from); !t.IsZero() && !t.After(end) && n < maxCadenceSamples; t = sched.Next(t) {
		if n == 0 {
			first = t
		} else if gap := t.Sub(prev); shortest == 0 || gap < shortest {
			shortest = gap
		}
		prev = t
		n++
	}
	if n < 2 {
		return Cadence{Average: CadenceHorizon, Shortest: CadenceHorizon, Samples: n}, nil
	}
	return Cadence{
		Average:  prev.Sub(first) / time.Duration(n-1),
		Shortest: shortest,
		Samples:  n,
	}, nil
}

// LoadLocation resolves an IANA timezone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
