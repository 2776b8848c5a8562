package logstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tgdispatch/internal/domain"
	logx "tgdispatch/pkg/logx"
)

// fileStore keeps the log as JSON Lines.
//
// Files:
//   - <prefix>.log.jsonl  (append-only entries)
//
// The latest entry per key is rebuilt by replaying the file on open and kept
// in memory afterwards.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	file   *os.File
	latest map[string]record
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("log_store.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSuffix(base, ".log")
	logPath := filepath.Join(dir, base) + ".log.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	latest := map[string]record{}
	skipped, err := replayLog(logPath, latest)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped malformed log lines", logx.Int("lines", skipped), logx.String("path", logPath))
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("log store opened", logx.String("path", logPath), logx.Int("keys", len(latest)))
	return &fileStore{log: log, file: f, latest: latest}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, e domain.LogEntry) error {
	_ = ctx
	r := fromEntry(e)
	if r.At.IsZero() {
		r.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.file).Encode(r); err != nil {
		return err
	}
	k := key(r.Account, r.Destination)
	if cur, ok := s.latest[k]; !ok || !r.At.Before(cur.At) {
		s.latest[k] = r
	}
	return nil
}

func (s *fileStore) MostRecent(ctx context.Context, account, destination string) (*domain.LogEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, ErrClosed
	}
	r, ok := s.latest[key(strings.TrimSpace(account), strings.TrimSpace(destination))]
	if !ok {
		return nil, nil
	}
	return toEntry(r), nil
}

// replayLog fills out with the latest record per key and returns how many
// lines could not be decoded.
func replayLog(path string, out map[string]record) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Account == "" {
			skipped++
			continue
		}
		k := key(r.Account, r.Destination)
		if cur, ok := out[k]; !ok || !r.At.Before(cur.At) {
			out[k] = r
		}
	}
	return skipped, sc.Err()
}
