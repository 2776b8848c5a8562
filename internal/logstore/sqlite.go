package logstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate log store: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, e domain.LogEntry) error {
	r := fromEntry(e)
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_log(at_ns, at, account, destination, result, link, task_id, pass_id)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.At.UnixNano(), r.At.Format(time.RFC3339Nano), r.Account, r.Destination, r.Result,
		nullStr(r.Link), nullStr(r.TaskID), nullStr(r.PassID),
	)
	return err
}

func (s *sqliteStore) MostRecent(ctx context.Context, account, destination string) (*domain.LogEntry, error) {
	var (
		at                 string
		r                  record
		link, task, passID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT at, account, destination, result, link, task_id, pass_id
		 FROM dispatch_log
		 WHERE account = ? AND destination = ?
		 ORDER BY at_ns DESC, id DESC
		 LIMIT 1`,
		strings.TrimSpace(account), strings.TrimSpace(destination),
	).Scan(&at, &r.Account, &r.Destination, &r.Result, &link, &task, &passID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return nil, fmt.Errorf("log entry timestamp %q: %w", at, err)
	}
	r.Link, r.TaskID, r.PassID = link.String, task.String, passID.String
	return toEntry(r), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
