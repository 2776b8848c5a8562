package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	tgQueueSize   = 256
	tgSendTimeout = 10 * time.Second
	tgMaxText     = 3500
	tgMaxValue    = 600
)

// Sender posts a log line to a chat. The transport implements it.
type Sender interface {
	SendLog(ctx context.Context, chat string, threadID int, text string) error
}

// telegramSink is a zerolog LevelWriter that queues formatted records for a
// background worker. Writes never block.
type telegramSink struct {
	queue chan string

	mu       sync.Mutex
	sender   Sender
	chat     string
	threadID int
	minLevel Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{queue: make(chan string, tgQueueSize), sender: sender, minLevel: LevelWarn}
}

func (t *telegramSink) setSender(sender Sender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.chat = strings.TrimSpace(cfg.Chat)
	t.threadID = cfg.ThreadID
	t.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	if cfg.Enabled {
		t.startOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			t.mu.Lock()
			t.cancel, t.done = cancel, done
			t.mu.Unlock()
			go t.run(ctx, done)
		})
	}
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			t.mu.Lock()
			sender, chat, thread := t.sender, t.chat, t.threadID
			t.mu.Unlock()
			if sender == nil || chat == "" {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, tgSendTimeout)
			_ = sender.SendLog(sctx, chat, thread, text)
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(LevelInfo, p) }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	lim, minLevel := t.limiter, t.minLevel
	t.mu.Unlock()
	if lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatRecord(p); text != "" {
		select {
		case t.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// formatRecord renders a JSON record as "[LEVEL] comp: message" followed by
// one "key=value" line per field, keys sorted. Non-JSON input is passed
// through.
func formatRecord(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, tgMaxText)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	if comp, _ := m["comp"].(string); comp != "" {
		b.WriteString(comp)
		b.WriteString(": ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "comp", zerolog.CallerFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, clip(fmt.Sprint(m[k]), tgMaxValue))
	}
	return clip(b.String(), tgMaxText)
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
