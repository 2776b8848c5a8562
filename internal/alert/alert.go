// Package alert turns pass summaries into operator messages.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tgdispatch/internal/dispatch"
	logx "tgdispatch/pkg/logx"
)

// Heading starts every summary message.
const Heading = "Last dispatch pass:"

const (
	maxMessageLen = 4096
	maxErrorLines = 20
)

// Format renders s as plain text. sheetURL, when set, is appended so
// operators can jump to the task rows.
func Format(s dispatch.Summary, sheetURL string) string {
	var b strings.Builder
	b.WriteString(Heading)
	b.WriteString("\n\n")

	due := s.Processed - s.Skipped
	fmt.Fprintf(&b, "Due: %d tasks\n", due)
	if due > 0 {
		fmt.Fprintf(&b, "Delivered: %d of %d\n", s.Succeeded, due)
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, "Failed: %d\n", s.Failed)
	}
	if s.Deactivated > 0 {
		fmt.Fprintf(&b, "%d tasks deactivated. Fix them and enable again.\n", s.Deactivated)
	}

	if len(s.Notices) > 0 {
		b.WriteString("\nRate limits:\n")
		for _, n := range s.Notices {
			b.WriteString(n.Text())
			b.WriteString("\n")
		}
	}

	if fails := s.Failures(); len(fails) > 0 {
		b.WriteString("\nErrors:\n")
		for i, r := range fails {
			if i == maxErrorLines {
				fmt.Fprintf(&b, "... and %d more\n", len(fails)-i)
				break
			}
			b.WriteString("- ")
			if r.Row > 0 {
				fmt.Fprintf(&b, "row %d ", r.Row)
			}
			fmt.Fprintf(&b, "%s -> %s: ", r.Account, r.Destination)
			switch {
			case r.Deactivated:
				b.WriteString("deactivated")
				if r.Err != nil {
					fmt.Fprintf(&b, ", %v", r.Err)
				}
			case r.Err != nil:
				b.WriteString(r.Err.Error())
			}
			b.WriteString("\n")
		}
	}

	if sheetURL != "" {
		fmt.Fprintf(&b, "\nDetails in the task sheet: %s", sheetURL)
	}
	return truncate(strings.TrimRight(b.String(), "\n"), maxMessageLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Sender posts a message to a chat (and optional forum thread).
type Sender interface {
	SendLog(ctx context.Context, chat string, threadID int, text string) error
}

// Telegram publishes summaries to an alert chat.
type Telegram struct {
	sender   Sender
	chat     string
	threadID int
	sheetURL string
}

func NewTelegram(sender Sender, chat string, threadID int, sheetURL string) *Telegram {
	return &Telegram{sender: sender, chat: chat, threadID: threadID, sheetURL: sheetURL}
}

func (t *Telegram) Publish(ctx context.Context, s dispatch.Summary) error {
	if t == nil || t.sender == nil || t.chat == "" {
		return nil
	}
	return t.sender.SendLog(ctx, t.chat, t.threadID, Format(s, t.sheetURL))
}

// Log writes summaries to the structured log.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log { return &Log{log: log.With(logx.String("comp", "alert"))} }

func (l *Log) Publish(_ context.Context, s dispatch.Summary) error {
	lvl := l.log.Info
	if s.Failed > 0 || s.Deactivated > 0 {
		lvl = l.log.Warn
	}
	lvl("pass summary",
		logx.String("pass", s.PassID),
		logx.Int("processed", s.Processed),
		logx.Int("succeeded", s.Succeeded),
		logx.Int("failed", s.Failed),
		logx.Int("deactivated", s.Deactivated),
		logx.Int("notices", len(s.Notices)),
	)
	for _, n := range s.Notices {
		l.log.Warn("rate limit notice", logx.String("chat", n.Chat), logx.String("text", n.Text()))
	}
	return nil
}

// Multi fans a summary out to several publishers and joins their errors.
type Multi []dispatch.Publisher

func (m Multi) Publish(ctx context.Context, s dispatch.Summary) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
