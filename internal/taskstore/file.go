package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"

	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

// fileStore reads the whole sheet on every load and rewrites it atomically
// (temp file + rename) on every write-back.
type fileStore struct {
	path   string
	format format
	log    logx.Logger

	mu sync.Mutex
}

func openFile(path string, log logx.Logger) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("task_store.path is required for file driver")
	}
	f, err := formatOf(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &fileStore{path: path, format: f, log: log}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadTasks(ctx context.Context) ([]domain.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *fileStore) readLocked() ([]domain.Task, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(s.format, b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	first := 1
	if s.format == formatCSV {
		// Row 1 is the header, as in a spreadsheet.
		first = 2
	}
	tasks := make([]domain.Task, 0, len(rows))
	for i, r := range rows {
		tasks = append(tasks, r.task(first+i))
	}
	return tasks, nil
}

func (s *fileStore) SaveSchedules(ctx context.Context, updates []domain.ScheduleUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.update(ctx, func(tasks []domain.Task) int {
		n := 0
		for _, u := range updates {
			if i := locate(tasks, u.TaskID, u.Row); i >= 0 {
				tasks[i].Schedule = u.Schedule
				n++
			} else {
				s.log.Warn("schedule update for unknown task", logx.String("task", u.TaskID), logx.Int("row", u.Row))
			}
		}
		return n
	})
}

func (s *fileStore) SaveOutcomes(ctx context.Context, outcomes []domain.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return s.update(ctx, func(tasks []domain.Task) int {
		n := 0
		for _, o := range outcomes {
			i := locate(tasks, o.TaskID, o.Row)
			if i < 0 {
				s.log.Warn("outcome for unknown task", logx.String("task", o.TaskID), logx.Int("row", o.Row))
				continue
			}
			tasks[i].Result, tasks[i].Link = o.Result, o.Link
			tasks[i].Active = o.Active
			if o.Schedule != "" {
				tasks[i].Schedule = o.Schedule
			}
			n++
		}
		return n
	})
}

// update re-reads the sheet, applies fn and writes it back when fn changed
// at least one row.
func (s *fileStore) update(ctx context.Context, fn func([]domain.Task) int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readLocked()
	if err != nil {
		return err
	}
	if fn(tasks) == 0 {
		return nil
	}
	rows := make([]row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, row{
			Active:      t.Active,
			Account:     t.Account,
			Schedule:    t.Schedule,
			Destination: t.Destination,
			Payload:     t.Payload,
			Result:      t.Result,
			Link:        t.Link,
		})
	}
	b, err := encodeRows(s.format, rows)
	if err != nil {
		return err
	}
	return writeAtomic(s.path, b)
}

func decodeRows(f format, b []byte) ([]row, error) {
	var doc document
	switch f {
	case formatYAML:
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
	case formatJSON:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
	case formatTOML:
		if err := toml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
	case formatCSV:
		return decodeCSV(b)
	default:
		return nil, ErrUnknownFormat
	}
	return doc.Tasks, nil
}

func encodeRows(f format, rows []row) ([]byte, error) {
	doc := document{Tasks: rows}
	switch f {
	case formatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case formatJSON:
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case formatTOML:
		return toml.Marshal(doc)
	case formatCSV:
		return encodeCSV(rows)
	default:
		return nil, ErrUnknownFormat
	}
}

func writeAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if st, err := os.Stat(path); err == nil {
		_ = os.Chmod(name, st.Mode().Perm())
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
