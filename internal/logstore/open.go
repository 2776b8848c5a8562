package logstore

import (
	"context"
	"errors"
	"strings"

	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

// Store is the log store API used by the dispatch core.
type Store interface {
	// MostRecent returns the latest entry for (account, destination), or
	// nil, nil when there is none.
	MostRecent(ctx context.Context, account, destination string) (*domain.LogEntry, error)
	Append(ctx context.Context, e domain.LogEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "logstore"), logx.String("driver", driver))

	switch driver {
	case "", "file", "jsonl":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown log store driver: " + driver)
	}
}

func toEntry(r record) *domain.LogEntry {
	return &domain.LogEntry{
		Timestamp:   r.At,
		Account:     r.Account,
		Destination: r.Destination,
		Result:      r.Result,
		Link:        r.Link,
		TaskID:      r.TaskID,
		PassID:      r.PassID,
	}
}

func fromEntry(e domain.LogEntry) record {
	return record{
		At:          e.Timestamp,
		Account:     strings.TrimSpace(e.Account),
		Destination: strings.TrimSpace(e.Destination),
		Result:      e.Result,
		Link:        e.Link,
		TaskID:      e.TaskID,
		PassID:      e.PassID,
	}
}
