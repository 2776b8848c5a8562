// Package taskstore is the config store of the dispatcher: the task sheet
// that lists what to send where and when, plus the write-back of rewritten
// schedules and per-row outcomes.
package taskstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

// Store is the task sheet API used by the dispatch core.
type Store interface {
	LoadTasks(ctx context.Context) ([]domain.Task, error)
	SaveSchedules(ctx context.Context, updates []domain.ScheduleUpdate) error
	SaveOutcomes(ctx context.Context, outcomes []domain.Outcome) error
	Close() error
}

// Config selects the task sheet backend.
//
// Driver values:
//   - "file": YAML, JSON, TOML or CSV file, by extension
//   - "sqlite": "tasks" table in a SQLite database
//
// If Driver is empty, "file" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

var ErrUnknownFormat = errors.New("unknown task file format")

func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "taskstore"))

	switch driver {
	case "", "file":
		return openFile(cfg.Path, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	default:
		return nil, errors.New("unknown task store driver: " + driver)
	}
}

// format is the on-disk encoding of a task file.
type format string

const (
	formatYAML format = "yaml"
	formatJSON format = "json"
	formatTOML format = "toml"
	formatCSV  format = "csv"
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".json":
		return formatJSON, nil
	case ".toml":
		return formatTOML, nil
	case ".csv":
		return formatCSV, nil
	default:
		return "", ErrUnknownFormat
	}
}

// row is the serialized task row.
type row struct {
	Active      bool   `json:"active" yaml:"active" toml:"active"`
	Account     string `json:"account" yaml:"account" toml:"account"`
	Schedule    string `json:"schedule" yaml:"schedule" toml:"schedule"`
	Destination string `json:"destination" yaml:"destination" toml:"destination"`
	Payload     string `json:"payload" yaml:"payload" toml:"payload"`
	Result      string `json:"result,omitempty" yaml:"result,omitempty" toml:"result,omitempty"`
	Link        string `json:"link,omitempty" yaml:"link,omitempty" toml:"link,omitempty"`
}

type document struct {
	Tasks []row `json:"tasks" yaml:"tasks" toml:"tasks"`
}

func (r row) task(n int) domain.Task {
	t := domain.Task{
		Row:         n,
		Active:      r.Active,
		Account:     strings.TrimSpace(r.Account),
		Schedule:    strings.TrimSpace(r.Schedule),
		Destination: strings.TrimSpace(r.Destination),
		Payload:     r.Payload,
		Result:      r.Result,
		Link:        r.Link,
	}
	t.EnsureID()
	return t
}

// locate returns the index of the row a write-back targets. The recorded row
// number wins when it still holds the same task; otherwise rows are searched
// by id, since the sheet may have been edited since it was loaded.
func locate(tasks []domain.Task, id string, rowNum int) int {
	for i, t := range tasks {
		if t.Row == rowNum && t.ID == id {
			return i
		}
	}
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
