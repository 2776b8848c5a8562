package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tgdispatch/internal/cronmark"
	"tgdispatch/internal/domain"
)

// RowProblem is one invalid task row found by CheckTasks.
type RowProblem struct {
	Row    int
	TaskID string
	Field  string
	Err    error
}

func (p RowProblem) Error() string {
	return fmt.Sprintf("row %d (%s) %s: %v", p.Row, p.TaskID, p.Field, p.Err)
}

// TaskCheck is the result of CheckTasks.
type TaskCheck struct {
	Total    int
	Active   int
	Problems []RowProblem
}

// CheckTasks loads the task sheet and checks every row the way a pass would
// read it, without dispatching anything. Inactive rows are checked too.
func (a *App) CheckTasks(ctx context.Context) (TaskCheck, error) {
	cfg := a.Config()
	loc, err := cronmark.LoadLocation(cfg.Timezone)
	if err != nil {
		return TaskCheck{}, err
	}
	calc := cronmark.New(loc)

	tasks, err := a.tasks.LoadTasks(ctx)
	if err != nil {
		return TaskCheck{}, fmt.Errorf("load tasks: %w", err)
	}

	res := TaskCheck{Total: len(tasks)}
	for i := range tasks {
		t := &tasks[i]
		t.EnsureID()
		if t.Active {
			res.Active++
		}
		add := func(field string, err error) {
			res.Problems = append(res.Problems, RowProblem{Row: t.Row, TaskID: t.ID, Field: field, Err: err})
		}
		if _, ok := cfg.Accounts[t.Account]; !ok {
			add("account", fmt.Errorf("unknown account %q", t.Account))
		}
		if err := calc.Validate(t.Schedule); err != nil {
			add("schedule", err)
		}
		if _, err := domain.ParseDestination(t.Destination); err != nil {
			add("destination", err)
		}
		if strings.TrimSpace(t.Payload) == "" {
			add("payload", errors.New("empty"))
		}
	}
	return res, nil
}
