// Package telegram implements the transport port on the Telegram Bot API.
// Each task account maps to one bot token.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"tgdispatch/internal/domain"
	"tgdispatch/internal/transport"
	"tgdispatch/pkg/logx"
)

const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultRatePerSec     = 20
	DefaultBurst          = 5
)

type Config struct {
	// Accounts maps the account name used in task rows to a bot token.
	Accounts       map[string]string
	APIURL         string
	RequestTimeout time.Duration
	RatePerSec     float64
	Burst          int
}

// WindowSource answers window fetches. The Bot API has no history call, so
// the message index fills this role.
type WindowSource interface {
	Window(ctx context.Context, chat string, anchorID, size int) ([]domain.MessageRef, error)
}

type account struct {
	name    string
	bot     *tele.Bot
	limiter *rate.Limiter
}

type Transport struct {
	cfg    Config
	log    logx.Logger
	window WindowSource

	accounts map[string]*account

	mu    sync.Mutex
	chats map[string]int64 // "@name" -> numeric id
}

var _ transport.Transport = (*Transport)(nil)

// New builds one offline bot per account. No network call is made until the
// first request.
func New(cfg Config, window WindowSource, log logx.Logger) (*Transport, error) {
	if len(cfg.Accounts) == 0 {
		return nil, errors.New("telegram: no accounts configured")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	t := &Transport{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "telegram")),
		window:   window,
		accounts: make(map[string]*account, len(cfg.Accounts)),
		chats:    map[string]int64{},
	}
	client := &http.Client{Timeout: cfg.RequestTimeout}
	for name, token := range cfg.Accounts {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("telegram: account %q has an empty token", name)
		}
		b, err := tele.NewBot(tele.Settings{
			Token:   token,
			URL:     cfg.APIURL,
			Client:  client,
			Offline: true,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram: account %q: %w", name, err)
		}
		t.accounts[name] = &account{
			name:    name,
			bot:     b,
			limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		}
	}
	return t, nil
}

// Accounts returns the configured account names, sorted.
func (t *Transport) Accounts() []string {
	out := make([]string, 0, len(t.accounts))
	for name := range t.accounts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (t *Transport) account(name string) (*account, error) {
	a, ok := t.accounts[name]
	if !ok {
		return nil, transport.PermissionDenied(fmt.Errorf("unknown account %q", name))
	}
	return a, nil
}

// call waits for the account's rate budget, then runs fn. It returns early
// when ctx ends; telebot requests are still bounded by the client timeout.
func (t *Transport) call(ctx context.Context, a *account, fn func(b *tele.Bot) error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return transport.Transient(err)
	}
	done := make(chan error, 1)
	go func() { done <- fn(a.bot) }()
	select {
	case err := <-done:
		return classify(err)
	case <-ctx.Done():
		return transport.Transient(ctx.Err())
	}
}

func (t *Transport) SendText(ctx context.Context, acct string, to domain.Destination, text string) (transport.Delivery, error) {
	a, err := t.account(acct)
	if err != nil {
		return transport.Delivery{}, err
	}
	chunks := splitText(text, textLimit)

	d := transport.Delivery{Chat: to.Chat, Topic: to.Topic}
	for _, chunk := range chunks {
		var msg *tele.Message
		err := t.call(ctx, a, func(b *tele.Bot) error {
			var err error
			msg, err = b.Send(recipient(to.Chat), chunk, &tele.SendOptions{ThreadID: to.Topic})
			return err
		})
		if err != nil {
			return d, err
		}
		if msg != nil {
			d.IDs = append(d.IDs, msg.ID)
		}
	}
	return d, nil
}

func (t *Transport) Forward(ctx context.Context, acct string, to domain.Destination, fromChat string, ids []int) (transport.Delivery, error) {
	d := transport.Delivery{Chat: to.Chat, Topic: to.Topic}
	if len(ids) == 0 {
		return d, transport.NotFound(errors.New("nothing to forward"))
	}
	a, err := t.account(acct)
	if err != nil {
		return d, err
	}
	from, err := t.chatID(ctx, a, fromChat)
	if err != nil {
		return d, err
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return d, err
	}
	params := map[string]string{
		"chat_id":      to.Chat,
		"from_chat_id": strconv.FormatInt(from, 10),
		"message_ids":  string(idsJSON),
	}
	if to.Topic != 0 {
		params["message_thread_id"] = strconv.Itoa(to.Topic)
	}

	var data []byte
	err = t.call(ctx, a, func(b *tele.Bot) error {
		var err error
		data, err = b.Raw("forwardMessages", params)
		return err
	})
	if err != nil {
		return d, err
	}

	var resp struct {
		Result []struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return d, transport.Transient(fmt.Errorf("decode forwardMessages: %w", err))
	}
	if len(resp.Result) == 0 {
		return d, transport.NotFound(fmt.Errorf("no message forwarded from %s", fromChat))
	}
	for _, r := range resp.Result {
		d.IDs = append(d.IDs, r.MessageID)
	}
	return d, nil
}

// JoinChat verifies that acct can see chat. Bots cannot join chats on their
// own; an administrator has to add them, so a getChat check is all that can be
// done here.
func (t *Transport) JoinChat(ctx context.Context, acct, chat string) error {
	a, err := t.account(acct)
	if err != nil {
		return err
	}
	_, err = t.resolve(ctx, a, chat)
	return err
}

func (t *Transport) FetchWindow(ctx context.Context, chat string, anchorID, size int) ([]domain.MessageRef, error) {
	if t.window == nil {
		return nil, transport.NotFound(errors.New("no message index configured"))
	}
	refs, err := t.window.Window(ctx, chat, anchorID, size)
	if err != nil {
		return nil, transport.Transient(err)
	}
	return refs, nil
}

// chatID returns the numeric id of chat, resolving handles once per process.
func (t *Transport) chatID(ctx context.Context, a *account, chat string) (int64, error) {
	if !strings.HasPrefix(chat, "@") {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return 0, transport.NotFound(fmt.Errorf("bad chat %q", chat))
		}
		return id, nil
	}
	key := strings.ToLower(chat)
	t.mu.Lock()
	id, ok := t.chats[key]
	t.mu.Unlock()
	if ok {
		return id, nil
	}
	return t.resolve(ctx, a, chat)
}

func (t *Transport) resolve(ctx context.Context, a *account, chat string) (int64, error) {
	var c *tele.Chat
	err := t.call(ctx, a, func(b *tele.Bot) error {
		var err error
		c, err = b.ChatByUsername(chat)
		return err
	})
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, transport.NotFound(fmt.Errorf("chat %s", chat))
	}
	if strings.HasPrefix(chat, "@") {
		t.mu.Lock()
		t.chats[strings.ToLower(chat)] = c.ID
		t.mu.Unlock()
	}
	return c.ID, nil
}

type recipient string

func (r recipient) Recipient() string { return string(r) }
