package logstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS dispatch_log (
	id          BIGSERIAL PRIMARY KEY,
	at          TIMESTAMPTZ NOT NULL,
	account     TEXT NOT NULL,
	destination TEXT NOT NULL,
	result      TEXT NOT NULL,
	link        TEXT NOT NULL DEFAULT '',
	task_id     TEXT NOT NULL DEFAULT '',
	pass_id     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS dispatch_log_latest
	ON dispatch_log(account, destination, at DESC, id DESC);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("log_store.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate log store: %w", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) Append(ctx context.Context, e domain.LogEntry) error {
	r := fromEntry(e)
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch_log(at, account, destination, result, link, task_id, pass_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.At, r.Account, r.Destination, r.Result, r.Link, r.TaskID, r.PassID,
	)
	return err
}

func (s *postgresStore) MostRecent(ctx context.Context, account, destination string) (*domain.LogEntry, error) {
	var r record
	err := s.pool.QueryRow(ctx, `
		SELECT at, account, destination, result, link, task_id, pass_id
		FROM dispatch_log
		WHERE account = $1 AND destination = $2
		ORDER BY at DESC, id DESC
		LIMIT 1`,
		strings.TrimSpace(account), strings.TrimSpace(destination),
	).Scan(&r.At, &r.Account, &r.Destination, &r.Result, &r.Link, &r.TaskID, &r.PassID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toEntry(r), nil
}
