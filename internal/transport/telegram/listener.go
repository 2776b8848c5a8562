package telegram

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgdispatch/internal/msgindex"
	"tgdispatch/pkg/logx"
)

// Recorder stores messages seen by the listener.
type Recorder interface {
	Record(ctx context.Context, m msgindex.Message) error
}

type ListenerConfig struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

// Listener long-polls one bot and records every channel post and group
// message it sees, so album neighborhoods can be answered later.
type Listener struct {
	bot *tele.Bot
	rec Recorder
	log logx.Logger

	recorded atomic.Int64
	failed   atomic.Int64
}

func NewListener(cfg ListenerConfig, rec Recorder, log logx.Logger) (*Listener, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if rec == nil {
		return nil, errors.New("listener needs a recorder")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:       cfg.Token,
		URL:         cfg.APIURL,
		Offline:     true,
		Synchronous: true,
		Poller: &tele.LongPoller{
			Timeout:        timeout,
			AllowedUpdates: []string{"message", "channel_post"},
		},
	})
	if err != nil {
		return nil, err
	}
	l := &Listener{bot: b, rec: rec, log: log.With(logx.String("comp", "telegram.listener"))}
	b.Handle(tele.OnChannelPost, l.handle)
	b.Handle(tele.OnText, l.handle)
	b.Handle(tele.OnMedia, l.handle)
	return l, nil
}

// Stats returns how many messages were recorded and how many writes failed.
func (l *Listener) Stats() (recorded, failed int64) {
	return l.recorded.Load(), l.failed.Load()
}

// Run polls until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.bot.Stop()
		case <-stopped:
		}
	}()
	l.log.Info("polling started")
	l.bot.Start()
	close(stopped)
	l.log.Info("polling stopped")
	return ctx.Err()
}

func (l *Listener) handle(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	rec := msgindex.Message{
		ChatID:   m.Chat.ID,
		Username: m.Chat.Username,
		ID:       m.ID,
		AlbumID:  m.AlbumID,
		Date:     time.Unix(m.Unixtime, 0),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.rec.Record(ctx, rec); err != nil {
		l.failed.Add(1)
		l.log.Warn("index write failed", logx.Int64("chat", rec.ChatID), logx.Int("id", rec.ID), logx.Err(err))
		return nil
	}
	l.recorded.Add(1)
	return nil
}
