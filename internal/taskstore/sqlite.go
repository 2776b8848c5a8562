package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	row         INTEGER PRIMARY KEY AUTOINCREMENT,
	active      INTEGER NOT NULL DEFAULT 1,
	account     TEXT    NOT NULL,
	schedule    TEXT    NOT NULL,
	destination TEXT    NOT NULL,
	payload     TEXT    NOT NULL,
	result      TEXT    NOT NULL DEFAULT '',
	link        TEXT    NOT NULL DEFAULT '',
	updated_at  TEXT
);
`

// SQLiteStore keeps the sheet in a "tasks" table. The row number is the
// table's primary key.
type SQLiteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate task store: %w", err)
	}
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert adds a task row and returns its row number.
func (s *SQLiteStore) Insert(ctx context.Context, t domain.Task) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(active, account, schedule, destination, payload, result, link)
		 VALUES(?,?,?,?,?,?,?)`,
		boolInt(t.Active), t.Account, t.Schedule, t.Destination, t.Payload, t.Result, t.Link,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

func (s *SQLiteStore) LoadTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row, active, account, schedule, destination, payload, result, link FROM tasks ORDER BY row`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var (
			r      row
			n      int
			active int
		)
		if err := rows.Scan(&n, &active, &r.Account, &r.Schedule, &r.Destination, &r.Payload, &r.Result, &r.Link); err != nil {
			return nil, err
		}
		r.Active = active != 0
		out = append(out, r.task(n))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSchedules(ctx context.Context, updates []domain.ScheduleUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tasks SET schedule = ?, updated_at = datetime('now') WHERE row = ?`,
				u.Schedule, u.Row,
			); err != nil {
				return fmt.Errorf("task %s: %w", u.TaskID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SaveOutcomes(ctx context.Context, outcomes []domain.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, o := range outcomes {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tasks
				 SET result = ?, link = ?, active = ?, schedule = COALESCE(NULLIF(?, ''), schedule), updated_at = datetime('now')
				 WHERE row = ?`,
				o.Result, o.Link, boolInt(o.Active), o.Schedule, o.Row,
			); err != nil {
				return fmt.Errorf("task %s: %w", o.TaskID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
