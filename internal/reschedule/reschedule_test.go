package reschedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgdispatch/internal/cronmark"
	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

var monday = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

type recordingSaver struct {
	calls   int
	updates []domain.ScheduleUpdate
	err     error
}

func (s *recordingSaver) SaveSchedules(_ context.Context, u []domain.ScheduleUpdate) error {
	s.calls++
	s.updates = append(s.updates, u...)
	return s.err
}

func TestRewrite(t *testing.T) {
	calc := cronmark.New(time.UTC)
	cases := []struct {
		expr     string
		required time.Duration
		want     string
	}{
		{"*/30 * * * *", 36 * time.Minute, "0 * * * *"},
		{"*/5 9-17 * * 1-5", 12 * time.Minute, "*/12 9-17 * * 1-5"},
		{"10-59/15 * * * *", 20 * time.Minute, "10-59/20 * * * *"},
		{"5,35 * * * *", 40 * time.Minute, "5 * * * *"},
		{"7 * * * *", 2 * time.Hour, "7 */2 * * *"},
		{"15 9-17 * * *", 3 * time.Hour, "15 9-17/3 * * *"},
		{"0 9,13,21 * * *", 5 * time.Hour, "0 9-21/6 * * *"},
		{"30 10 * * *", 2 * time.Hour, "30 10 * * *"},
		{"0 */4 * * *", 20 * time.Hour, "0 0 * * *"},
		{"0 */4 * * *", 30 * time.Hour, "0 0 * * 1"},
		{"0 9 * * MON-FRI", 30 * time.Hour, "0 9 * * 1"},
	}
	for _, tc := range cases {
		got, err := Rewrite(calc, tc.expr, tc.required, monday)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, "%s at %s", tc.expr, tc.required)
	}
}

func TestRewriteUnrepresentable(t *testing.T) {
	calc := cronmark.New(time.UTC)
	_, err := Rewrite(calc, "0 * * * *", 8*24*time.Hour, monday)
	var ue *UnrepresentableError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "0 * * * *", ue.Expr)

	_, err = Rewrite(calc, "bogus", time.Hour, monday)
	var ie *cronmark.InvalidScheduleError
	require.ErrorAs(t, err, &ie)
}

func TestRewriteConverges(t *testing.T) {
	calc := cronmark.New(time.UTC)
	exprs := []string{
		"* * * * *", "*/7 * * * *", "0,10,50 * * * *", "*/15 8-20 * * *",
		"0 9,12,18 * * 1-5", "45 */3 1,15 * *", "0 0 * * *", "30 6 * jan-jun sat,sun",
	}
	intervals := []time.Duration{
		30 * time.Second, 5 * time.Minute, 25 * time.Minute, 50 * time.Minute,
		90 * time.Minute, 5 * time.Hour, 13 * time.Hour, 2 * 24 * time.Hour, 6 * 24 * time.Hour,
	}
	for _, expr := range exprs {
		for _, req := range intervals {
			got, err := Rewrite(calc, expr, req, monday)
			require.NoError(t, err, "%s %s", expr, req)
			cad, err := calc.Cadence(got, monday)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, cad.Shortest, req, "%s -> %s for %s", expr, got, req)
		}
	}
}

func TestApplyRateLimitScenario(t *testing.T) {
	calc := cronmark.New(time.UTC)
	saver := &recordingSaver{}
	r := New(calc, saver, Options{}, logx.Nop())

	tasks := []*domain.Task{
		{ID: "hourly", Row: 2, Active: true, Account: "main", Schedule: "0 * * * *", Destination: "@slowchat"},
		{ID: "halfhour", Row: 3, Active: true, Account: "alt", Schedule: "*/30 * * * *", Destination: "@slowchat/7"},
		{ID: "elsewhere", Row: 4, Active: true, Account: "main", Schedule: "*/10 * * * *", Destination: "@otherchat"},
		{ID: "paused", Row: 5, Active: false, Account: "main", Schedule: "*/5 * * * *", Destination: "@slowchat"},
	}

	n, err := r.Apply(context.Background(), "@slowchat", 1800*time.Second, tasks, monday)
	require.NoError(t, err)
	require.Equal(t, 2160*time.Second, n.Required)
	require.Len(t, n.Changes, 2)
	require.Equal(t, "hourly", n.Changes[0].TaskID)
	require.False(t, n.Changes[0].Changed)
	require.Equal(t, "halfhour", n.Changes[1].TaskID)
	require.True(t, n.Changes[1].Changed)

	require.Equal(t, "0 * * * *", tasks[0].Schedule)
	require.Equal(t, "0 * * * *", tasks[1].Schedule)
	require.Equal(t, "*/10 * * * *", tasks[2].Schedule)
	require.Equal(t, "*/5 * * * *", tasks[3].Schedule)

	require.Equal(t, 1, saver.calls)
	require.Equal(t, []domain.ScheduleUpdate{{TaskID: "halfhour", Row: 3, Schedule: "0 * * * *"}}, saver.updates)

	for _, task := range tasks[:2] {
		cad, err := calc.Cadence(task.Schedule, monday)
		require.NoError(t, err)
		require.GreaterOrEqual(t, cad.Shortest, n.Required)
	}

	text := n.Text()
	assert.Contains(t, text, "@slowchat")
	assert.Contains(t, text, "30 minutes")
	assert.Contains(t, text, "hourly")
	assert.Contains(t, text, `"*/30 * * * *" -> "0 * * * *"`)

	assert.Equal(t, `Rate limit in @slowchat (wait 30 minutes): schedule changed from "*/30 * * * *" to "0 * * * *"`,
		n.ChangeText(n.Changes[1]))
	assert.Contains(t, n.ChangeText(n.Changes[0]), `schedule "0 * * * *" already allows 36 minutes spacing`)
}

func TestApplyAlwaysReports(t *testing.T) {
	saver := &recordingSaver{}
	r := New(cronmark.New(time.UTC), saver, Options{}, logx.Nop())
	tasks := []*domain.Task{
		{ID: "daily", Active: true, Schedule: "0 9 * * *", Destination: "@slowchat"},
	}

	n, err := r.Apply(context.Background(), "@slowchat", 10*time.Minute, tasks, monday)
	require.NoError(t, err)
	require.Equal(t, 0, saver.calls)
	require.Len(t, n.Changes, 1)
	require.Empty(t, n.Rewritten())
	require.True(t, strings.Contains(n.Text(), "already satisfy"))
}

func TestApplyUnrepresentable(t *testing.T) {
	r := New(cronmark.New(time.UTC), nil, Options{}, logx.Nop())
	tasks := []*domain.Task{
		{ID: "t1", Active: true, Schedule: "0 * * * *", Destination: "@slowchat"},
	}

	n, err := r.Apply(context.Background(), "@slowchat", 7*24*time.Hour, tasks, monday)
	require.NoError(t, err)
	var ue *UnrepresentableError
	require.ErrorAs(t, n.Changes[0].Err, &ue)
	require.Equal(t, "0 * * * *", tasks[0].Schedule)
}

func TestApplySaveError(t *testing.T) {
	boom := errors.New("sheet unavailable")
	r := New(cronmark.New(time.UTC), &recordingSaver{err: boom}, Options{}, logx.Nop())
	tasks := []*domain.Task{
		{ID: "t1", Active: true, Schedule: "* * * * *", Destination: "-100123"},
	}

	n, err := r.Apply(context.Background(), "-100123", time.Minute, tasks, monday)
	require.ErrorIs(t, err, boom)
	require.Len(t, n.Rewritten(), 1)
}

func TestRequiredDefaults(t *testing.T) {
	r := New(cronmark.New(time.UTC), nil, Options{}, logx.Nop())
	require.Equal(t, 72*time.Minute, r.Required(0))
	require.Equal(t, 72*time.Second, r.Required(time.Minute))

	r = New(cronmark.New(time.UTC), nil, Options{BufferFactor: 1.5, DefaultMinInterval: 10 * time.Minute}, logx.Nop())
	require.Equal(t, 15*time.Minute, r.Required(0))
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "45 seconds", Humanize(45*time.Second))
	assert.Equal(t, "36 minutes", Humanize(36*time.Minute))
	assert.Equal(t, "1 hour", Humanize(time.Hour))
	assert.Equal(t, "3 hours", Humanize(3*time.Hour))
}
