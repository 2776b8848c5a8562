// Package msgindex remembers channel messages seen by the bot so album
// neighborhoods can be looked up later. The Bot API has no history call, so
// this index is what backs window fetches.
package msgindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tgdispatch/internal/domain"
	"tgdispatch/internal/transport"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	chat_id   INTEGER NOT NULL,
	username  TEXT    NOT NULL DEFAULT '',
	id        INTEGER NOT NULL,
	album_id  TEXT    NOT NULL DEFAULT '',
	date      INTEGER NOT NULL,
	PRIMARY KEY (chat_id, id)
);
CREATE INDEX IF NOT EXISTS messages_username ON messages(username, id);
`

// Message is one indexed message.
type Message struct {
	ChatID   int64
	Username string // without "@", empty for private chats
	ID       int
	AlbumID  string
	Date     time.Time
}

type Index struct {
	db *sql.DB
}

func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Index, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("message index path is required")
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
	if busyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate message index: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Record upserts m.
func (x *Index) Record(ctx context.Context, m Message) error {
	if m.ID <= 0 || m.ChatID == 0 {
		return fmt.Errorf("message index: invalid message %d in chat %d", m.ID, m.ChatID)
	}
	if m.Date.IsZero() {
		m.Date = time.Now()
	}
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO messages(chat_id, username, id, album_id, date) VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id, id) DO UPDATE SET username=excluded.username, album_id=excluded.album_id`,
		m.ChatID, strings.ToLower(strings.TrimPrefix(m.Username, "@")), m.ID, m.AlbumID, m.Date.Unix(),
	)
	return err
}

// Window returns indexed messages of chat in the centered window of size
// around anchorID. chat is "@name" or a numeric chat id.
func (x *Index) Window(ctx context.Context, chat string, anchorID, size int) ([]domain.MessageRef, error) {
	origin := transport.WindowOrigin(anchorID, size)
	last := origin + size - 1

	var (
		rows *sql.Rows
		err  error
	)
	if strings.HasPrefix(chat, "@") {
		rows, err = x.db.QueryContext(ctx,
			`SELECT id, album_id FROM messages WHERE username = ? AND id BETWEEN ? AND ? ORDER BY id`,
			strings.ToLower(chat[1:]), origin, last)
	} else {
		id, perr := strconv.ParseInt(chat, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("message index: bad chat %q: %w", chat, perr)
		}
		rows, err = x.db.QueryContext(ctx,
			`SELECT id, album_id FROM messages WHERE chat_id = ? AND id BETWEEN ? AND ? ORDER BY id`,
			id, origin, last)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MessageRef
	for rows.Next() {
		ref := domain.MessageRef{Chat: chat}
		if err := rows.Scan(&ref.ID, &ref.GroupKey); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Prune drops messages older than before and reports how many were removed.
func (x *Index) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM messages WHERE date < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
