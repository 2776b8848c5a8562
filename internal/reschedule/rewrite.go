package reschedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tgdispatch/internal/cronmark"
)

type stepKind int

const (
	stepMinutes stepKind = iota
	stepHours
	stepDaily
	stepWeekly
)

type step struct {
	kind stepKind
	n    int
}

func (s step) interval() time.Duration {
	switch s.kind {
	case stepMinutes:
		return time.Duration(s.n) * time.Minute
	case stepHours:
		return time.Duration(s.n) * time.Hour
	case stepDaily:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// ladder lists the cadences a cron expression can express with an even gap:
// minute steps dividing an hour, hour steps dividing a day, daily, weekly.
var ladder = func() []step {
	var out []step
	for _, n := range []int{1, 2, 3, 4, 5, 6, 10, 12, 15, 20, 30} {
		out = append(out, step{kind: stepMinutes, n: n})
	}
	for _, n := range []int{1, 2, 3, 4, 6, 8, 12} {
		out = append(out, step{kind: stepHours, n: n})
	}
	return append(out, step{kind: stepDaily}, step{kind: stepWeekly})
}()

// MaxInterval is the longest spacing a rewrite can guarantee.
const MaxInterval = 7 * 24 * time.Hour

// Rewrite returns the coarsest-needed standard cadence for expr whose shortest
// gap is at least required. Day-of-month, month and weekday restrictions are
// kept. The first minute value is kept as phase; for hour steps the original
// hour window is kept and the step widened inside it.
func Rewrite(calc *cronmark.Calculator, expr string, required time.Duration, now time.Time) (string, error) {
	if required > MaxInterval {
		return "", &UnrepresentableError{Expr: expr, Required: required}
	}
	if err := calc.Validate(expr); err != nil {
		return "", err
	}
	f := strings.Fields(expr)
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]

	m0, err := firstValue(minute)
	if err != nil {
		return "", err
	}
	h0, err := firstValue(hour)
	if err != nil {
		return "", err
	}

	for _, s := range ladder {
		if s.interval() < required {
			continue
		}
		var cand string
		switch s.kind {
		case stepMinutes:
			cand = join(minuteStep(m0, s.n), hour, dom, month, dow)
		case stepHours:
			hf, err := hourStep(hour, h0, s.n)
			if err != nil {
				return "", err
			}
			cand = join(strconv.Itoa(m0), hf, dom, month, dow)
		case stepDaily:
			cand = join(strconv.Itoa(m0), strconv.Itoa(h0), dom, month, dow)
		case stepWeekly:
			d0 := 1
			if dow != "*" && dow != "?" {
				if d0, err = firstValue(dow); err != nil {
					return "", err
				}
			}
			cand = join(strconv.Itoa(m0), strconv.Itoa(h0), "*", month, strconv.Itoa(d0))
		}
		cad, err := calc.Cadence(cand, now)
		if err != nil {
			continue
		}
		if cad.Shortest >= required {
			return cand, nil
		}
	}
	return "", &UnrepresentableError{Expr: expr, Required: required}
}

func join(fields ...string) string { return strings.Join(fields, " ") }

func minuteStep(m0, n int) string {
	if n == 1 {
		return "*"
	}
	if start := m0 % n; start != 0 {
		return fmt.Sprintf("%d-59/%d", start, n)
	}
	return fmt.Sprintf("*/%d", n)
}

func hourStep(field string, h0, n int) (string, error) {
	step := func() string {
		if n == 1 {
			return "*"
		}
		if start := h0 % n; start != 0 {
			return fmt.Sprintf("%d-23/%d", start, n)
		}
		return fmt.Sprintf("*/%d", n)
	}
	switch {
	case field == "*" || strings.HasPrefix(field, "*/"):
		return step(), nil
	case !strings.Contains(field, ",") && strings.Contains(field, "-"):
		rng, _, _ := strings.Cut(field, "/")
		return fmt.Sprintf("%s/%d", rng, n), nil
	}
	lo, hi, err := bounds(field)
	if err != nil {
		return "", err
	}
	if lo == hi {
		return strconv.Itoa(lo), nil
	}
	return fmt.Sprintf("%d-%d/%d", lo, hi, n), nil
}

// firstValue returns the smallest value a field can take. Wildcards start at 0.
func firstValue(field string) (int, error) {
	lo, _, err := bounds(field)
	return lo, err
}

// bounds returns the lowest start and highest end over a field's list items.
func bounds(field string) (int, int, error) {
	lo, hi := -1, -1
	for _, part := range strings.Split(field, ",") {
		rng, _, _ := strings.Cut(part, "/")
		var a, b int
		switch {
		case rng == "*" || rng == "?":
			a, b = 0, 0
		case strings.Contains(rng, "-"):
			as, bs, _ := strings.Cut(rng, "-")
			var err error
			if a, err = atoi(as); err != nil {
				return 0, 0, fmt.Errorf("field %q: %w", field, err)
			}
			if b, err = atoi(bs); err != nil {
				return 0, 0, fmt.Errorf("field %q: %w", field, err)
			}
		default:
			v, err := atoi(rng)
			if err != nil {
				return 0, 0, fmt.Errorf("field %q: %w", field, err)
			}
			a, b = v, v
		}
		if lo < 0 || a < lo {
			lo = a
		}
		if b > hi {
			hi = b
		}
	}
	return lo, hi, nil
}

var names = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

func atoi(s string) (int, error) {
	if v, ok := names[strings.ToLower(s)]; ok {
		return v, nil
	}
	return strconv.Atoi(s)
}
