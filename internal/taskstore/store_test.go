package taskstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

const yamlSheet = `tasks:
  - active: true
    account: main
    schedule: "0 9 * * *"
    destination: "@newsroom/5"
    payload: "good morning"
  - active: false
    account: alt
    schedule: "*/30 * * * *"
    destination: "-1001234567890"
    payload: "https://t.me/sourcechan/100"
`

const jsonSheet = `{"tasks": [
  {"active": true, "account": "main", "schedule": "0 9 * * *", "destination": "@newsroom/5", "payload": "good morning"},
  {"active": false, "account": "alt", "schedule": "*/30 * * * *", "destination": "-1001234567890", "payload": "https://t.me/sourcechan/100"}
]}
`

const tomlSheet = `[[tasks]]
active = true
account = "main"
schedule = "0 9 * * *"
destination = "@newsroom/5"
payload = "good morning"

[[tasks]]
active = false
account = "alt"
schedule = "*/30 * * * *"
destination = "-1001234567890"
payload = "https://t.me/sourcechan/100"
`

const csvSheet = "Active,Account,Schedule,Destination,Payload,Result\n" +
	"TRUE,main,0 9 * * *,@newsroom/5,good morning,\n" +
	"no,alt,*/30 * * * *,-1001234567890,https://t.me/sourcechan/100,\n"

func writeSheet(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileStoreRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		firstRow int
	}{
		{"tasks.yaml", yamlSheet, 1},
		{"tasks.json", jsonSheet, 1},
		{"tasks.toml", tomlSheet, 1},
		{"tasks.csv", csvSheet, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			path := writeSheet(t, tc.name, tc.content)
			s, err := Open(ctx, Config{Path: path}, logx.Nop())
			require.NoError(t, err)
			defer s.Close()

			tasks, err := s.LoadTasks(ctx)
			require.NoError(t, err)
			require.Len(t, tasks, 2)
			require.True(t, tasks[0].Active)
			require.Equal(t, "main", tasks[0].Account)
			require.Equal(t, "@newsroom/5", tasks[0].Destination)
			require.Equal(t, tc.firstRow, tasks[0].Row)
			require.Equal(t, domain.TaskID("main", "@newsroom/5", "good morning"), tasks[0].ID)
			require.False(t, tasks[1].Active)

			require.NoError(t, s.SaveSchedules(ctx, []domain.ScheduleUpdate{
				{TaskID: tasks[1].ID, Row: tasks[1].Row, Schedule: "0 * * * *"},
			}))
			require.NoError(t, s.SaveOutcomes(ctx, []domain.Outcome{
				{TaskID: tasks[0].ID, Row: tasks[0].Row, Result: domain.ResultSent, Link: "https://t.me/newsroom/5/77", Active: true, Schedule: "0 9 * * *"},
			}))

			again, err := s.LoadTasks(ctx)
			require.NoError(t, err)
			require.Equal(t, "0 * * * *", again[1].Schedule)
			require.Equal(t, domain.ResultSent, again[0].Result)
			require.Equal(t, "https://t.me/newsroom/5/77", again[0].Link)
			require.Equal(t, tasks[0].ID, again[0].ID)
			require.Equal(t, "good morning", again[0].Payload)
		})
	}
}

func TestFileStoreLocatesMovedRows(t *testing.T) {
	ctx := context.Background()
	path := writeSheet(t, "tasks.yaml", yamlSheet)
	s, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	id := tasks[1].ID

	// Stale row number: the id still finds the row.
	require.NoError(t, s.SaveOutcomes(ctx, []domain.Outcome{{TaskID: id, Row: 9, Result: "Error: boom", Active: false}}))
	again, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, "Error: boom", again[1].Result)
	require.Empty(t, again[0].Result)

	// Unknown ids change nothing.
	require.NoError(t, s.SaveSchedules(ctx, []domain.ScheduleUpdate{{TaskID: "nope", Row: 1, Schedule: "* * * * *"}}))
	again, err = s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, "0 9 * * *", again[0].Schedule)
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{Path: "tasks.xlsx"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownFormat)

	path := writeSheet(t, "tasks.json", `{"tasks": [{"active": true, "acount": "typo"}]}`)
	s, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = s.LoadTasks(ctx)
	require.Error(t, err)

	path = writeSheet(t, "tasks.csv", "active,account,schedule,destination,payload\nmaybe,a,* * * * *,@newsroom,x\n")
	s, err = Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = s.LoadTasks(ctx)
	require.ErrorContains(t, err, "row 2")

	path = writeSheet(t, "tasks.csv", "active,account\n1,a\n")
	s, err = Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = s.LoadTasks(ctx)
	require.ErrorContains(t, err, "missing column")
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	s := st.(*SQLiteStore)

	r1, err := s.Insert(ctx, domain.Task{Active: true, Account: "main", Schedule: "*/30 * * * *", Destination: "@slowchat", Payload: "a"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, domain.Task{Active: true, Account: "alt", Schedule: "0 9 * * *", Destination: "@newsroom", Payload: "b"})
	require.NoError(t, err)

	tasks, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, r1, tasks[0].Row)
	require.NotEmpty(t, tasks[0].ID)

	require.NoError(t, s.SaveSchedules(ctx, []domain.ScheduleUpdate{{TaskID: tasks[0].ID, Row: r1, Schedule: "0 * * * *"}}))
	require.NoError(t, s.SaveOutcomes(ctx, []domain.Outcome{{TaskID: tasks[1].ID, Row: tasks[1].Row, Result: "Error: x", Active: false}}))

	tasks, err = s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, "0 * * * *", tasks[0].Schedule)
	require.False(t, tasks[1].Active)
	require.Equal(t, "Error: x", tasks[1].Result)
	require.Equal(t, "0 9 * * *", tasks[1].Schedule)
}
