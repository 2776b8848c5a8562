package cronmark

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestMostRecentDailyScenario(t *testing.T) {
	t.Parallel()
	loc := moscow(t)
	c := New(loc)

	now := time.Date(2026, 3, 10, 9, 5, 0, 0, loc)
	got, err := c.MostRecent("0 9 * * *", now)
	if err != nil {
		t.Fatalf("MostRecent error: %v", err)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("mark = %v, want %v", got, want)
	}

	before := time.Date(2026, 3, 10, 8, 59, 59, 0, loc)
	got, err = c.MostRecent("0 9 * * *", before)
	if err != nil {
		t.Fatalf("MostRecent error: %v", err)
	}
	if want := time.Date(2026, 3, 9, 9, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("mark = %v, want %v", got, want)
	}
}

func TestMostRecentIsInclusive(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	now := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	got, err := c.MostRecent("*/15 * * * *", now)
	if err != nil {
		t.Fatalf("MostRecent error: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("mark = %v, want %v", got, now)
	}
}

func TestMostRecentUsesOperatingTimezone(t *testing.T) {
	t.Parallel()
	loc := moscow(t)
	c := New(loc)
	// 06:30 UTC is 09:30 in Moscow.
	now := time.Date(2026, 5, 1, 6, 30, 0, 0, time.UTC)
	got, err := c.MostRecent("0 9 * * *", now)
	if err != nil {
		t.Fatalf("MostRecent error: %v", err)
	}
	if want := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("mark = %v, want %v", got.UTC(), want)
	}
}

func TestMostRecentRangesListsSteps(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	now := time.Date(2026, 6, 3, 18, 7, 0, 0, time.UTC) // Wednesday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 9-17 * * *", time.Date(2026, 6, 3, 17, 0, 0, 0, time.UTC)},
		{"30 10,14,20 * * *", time.Date(2026, 6, 3, 14, 30, 0, 0, time.UTC)},
		{"5 */4 * * *", time.Date(2026, 6, 3, 16, 5, 0, 0, time.UTC)},
		{"0 12 * * MON", time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"0 0 29 2 *", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"* * * * *", time.Date(2026, 6, 3, 18, 7, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := c.MostRecent(tt.expr, now)
		if err != nil {
			t.Fatalf("%q: %v", tt.expr, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%q: mark = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestMostRecentInvalid(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	for _, expr := range []string{"", "not cron", "0 9 * *", "0 0 0 9 * *", "61 * * * *", "0 0 31 2 *", "@hourly"} {
		_, err := c.MostRecent(expr, time.Now())
		var ie *InvalidScheduleError
		if !errors.As(err, &ie) {
			t.Fatalf("%q: want InvalidScheduleError, got %v", expr, err)
		}
	}
}

func TestSundayAsSeven(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	sunday := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)

	for _, expr := range []string{"0 9 * * 7", "0 9 * * 0", "0 9 * * 5-7", "0 9 * * 1-7/2", "0 9 * * 1,7"} {
		got, err := c.MostRecent(expr, sunday)
		if err != nil {
			t.Fatalf("%q: %v", expr, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: mark = %v, want %v", expr, got, want)
		}
	}

	// 2-7/2 covers Tue, Thu and Sat only.
	got, err := c.MostRecent("0 9 * * 2-7/2", sunday)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("mark = %v, want %v", got, want)
	}

	cases := map[string]string{
		"0 9 * * 7":     "0 9 * * 0",
		"0 9 * * 0-7":   "0 9 * * 0-6",
		"0 9 * * 5-7":   "0 9 * * 5-6,0",
		"0 9 * * 2-7/2": "0 9 * * 2-6/2",
		"7 7 7 7 *":     "7 7 7 7 *",
		"0 9 * * MON":   "0 9 * * MON",
	}
	for in, want := range cases {
		if got := normalizeSunday(in); got != want {
			t.Fatalf("normalizeSunday(%q) = %q, want %q", in, got, want)
		}
	}

	var ie *InvalidScheduleError
	if _, err := c.Parse("0 9 * * 8"); !errors.As(err, &ie) {
		t.Fatalf("dow 8: want InvalidScheduleError, got %v", err)
	}
}

// The mark satisfies the expression, is <= now, and no activation lies
// strictly between the mark and now.
func TestMostRecentProperty(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	exprs := []string{"0 9 * * *", "*/7 * * * *", "15 3-5 * * 1-5", "0 */6 1,15 * *", "45 23 * * SUN"}
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, expr := range exprs {
		sched, err := c.Parse(expr)
		if err != nil {
			t.Fatalf("parse %q: %v", expr, err)
		}
		for i := 0; i < 25; i++ {
			now := base.Add(time.Duration(rng.Int63n(int64(365 * 24 * time.Hour))))
			mark, err := c.MostRecent(expr, now)
			if err != nil {
				t.Fatalf("%q at %v: %v", expr, now, err)
			}
			if mark.After(now) {
				t.Fatalf("%q: mark %v after now %v", expr, mark, now)
			}
			// The next activation after (mark - 1s) must be the mark itself.
			if got := sched.Next(mark.Add(-time.Second)); !got.Equal(mark) {
				t.Fatalf("%q: mark %v does not satisfy expression (next=%v)", expr, mark, got)
			}
			if next := sched.Next(mark); !next.After(now) {
				t.Fatalf("%q: activation %v lies between mark %v and now %v", expr, next, mark, now)
			}
		}
	}
}

func TestCadence(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	from := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		expr     string
		average  time.Duration
		shortest time.Duration
	}{
		{"0 * * * *", time.Hour, time.Hour},
		{"*/30 * * * *", 30 * time.Minute, 30 * time.Minute},
		{"0 9 * * *", 24 * time.Hour, 24 * time.Hour},
		{"0 9,10 * * *", 0, time.Hour},
		{"0 9 * * MON", CadenceHorizon, CadenceHorizon},
	}
	for _, tt := range tests {
		got, err := c.Cadence(tt.expr, from)
		if err != nil {
			t.Fatalf("%q: %v", tt.expr, err)
		}
		if tt.average != 0 && got.Average != tt.average {
			t.Fatalf("%q: average = %v, want %v", tt.expr, got.Average, tt.average)
		}
		if got.Shortest != tt.shortest {
			t.Fatalf("%q: shortest = %v, want %v", tt.expr, got.Shortest, tt.shortest)
		}
	}
}
