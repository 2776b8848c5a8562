// Package app wires configuration, stores, the Telegram transport and the
// dispatch orchestrator into the run, serve, index and validate modes.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tgdispatch/internal/alert"
	"tgdispatch/internal/config"
	"tgdispatch/internal/cronmark"
	"tgdispatch/internal/dispatch"
	"tgdispatch/internal/domain"
	"tgdispatch/internal/logstore"
	"tgdispatch/internal/metrics"
	"tgdispatch/internal/msgindex"
	"tgdispatch/internal/runtime/supervisor"
	"tgdispatch/internal/taskstore"
	"tgdispatch/internal/transport"
	"tgdispatch/internal/transport/telegram"
	"tgdispatch/pkg/logx"
)

type Option func(*App)

// WithTransport replaces the Telegram transport.
func WithTransport(t transport.Transport) Option { return func(a *App) { a.tr = t } }

// WithEnv replaces the environment lookup used for secrets.
func WithEnv(getenv func(string) string) Option { return func(a *App) { a.getenv = getenv } }

// WithNow replaces the pass clock.
func WithNow(now func() time.Time) Option { return func(a *App) { a.now = now } }

// WithLogOutput skips the configured log sinks and writes to log instead.
func WithLogOutput(log logx.Logger) Option { return func(a *App) { a.log = log } }

type App struct {
	cfgm   *config.Manager
	getenv func(string) string
	now    func() time.Time

	log  logx.Logger
	logs *logx.Service
	reg  *prometheus.Registry

	tr       transport.Transport
	tasks    taskstore.Store
	store    logstore.Store
	index    *msgindex.Index
	listener *telegram.Listener

	mu   sync.RWMutex
	cfg  *config.Config
	orch *dispatch.Orchestrator
	sup  *supervisor.Supervisor

	passMu sync.Mutex
	last   atomic.Pointer[PassStatus]
}

// PassStatus is the outcome of the latest pass, served on /healthz.
type PassStatus struct {
	PassID      string    `json:"pass_id"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Deactivated int       `json:"deactivated"`
	Err         string    `json:"err,omitempty"`
}

// New loads the config at cfgPath and opens every resource it names.
func New(ctx context.Context, cfgPath string, opts ...Option) (_ *App, err error) {
	a := &App{getenv: os.Getenv, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.cfgm = config.NewManager(cfgPath)
	a.cfgm.SetEnv(a.getenv)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}
	a.cfg = cfg

	if a.log.IsZero() {
		a.logs, a.log = logx.New(mapLogConfig(cfg), nil)
	}
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	log := a.log.With(logx.String("comp", "app"))

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.MustRegister(a.reg)

	if cfg.Index.Enabled {
		st, err := mapIndexSettings(cfg)
		if err != nil {
			return nil, err
		}
		if a.index, err = msgindex.Open(ctx, st.path, st.busy); err != nil {
			return nil, fmt.Errorf("open message index: %w", err)
		}
	}

	if a.tr == nil {
		tc, err := mapTransportConfig(cfg)
		if err != nil {
			return nil, err
		}
		var window telegram.WindowSource
		if a.index != nil {
			window = a.index
		}
		tg, err := telegram.New(tc, window, a.log)
		if err != nil {
			return nil, err
		}
		a.tr = tg
	}
	if a.logs != nil {
		a.logs.SetSender(textSender{tr: a.tr, account: cfg.Logging.Telegram.Account})
	}

	tsc, err := mapTaskStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.tasks, err = taskstore.Open(ctx, tsc, a.log); err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	lsc, err := mapLogStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = logstore.Open(ctx, lsc, a.log); err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	if a.orch, err = a.buildOrchestrator(cfg); err != nil {
		return nil, err
	}
	log.Info("ready",
		logx.String("timezone", cfg.Timezone),
		logx.Strings("accounts", cfg.AccountNames()),
		logx.String("tasks", cfg.Tasks.Path),
		logx.String("log_store", cfg.LogStore.Driver),
		logx.Bool("index", a.index != nil),
	)
	return a, nil
}

func (a *App) buildOrchestrator(cfg *config.Config) (*dispatch.Orchestrator, error) {
	loc, err := cronmark.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	opt, err := mapDispatchOptions(cfg)
	if err != nil {
		return nil, err
	}
	opt.Now = a.now

	pubs := alert.Multi{alert.NewLog(a.log)}
	if cfg.Alert.Enabled {
		sender := textSender{tr: a.tr, account: cfg.Alert.Account}
		pubs = append(pubs, alert.NewTelegram(sender, cfg.Alert.Chat, cfg.Alert.ThreadID, cfg.Alert.ConfigURL))
	}

	return dispatch.New(dispatch.Deps{
		Tasks:     a.tasks,
		Logs:      a.store,
		Transport: a.tr,
		Publisher: pubs,
		Calc:      cronmark.New(loc),
	}, opt, a.log), nil
}

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Registry() *prometheus.Registry { return a.reg }

// LastPass returns the status of the latest finished pass, or nil.
func (a *App) LastPass() *PassStatus { return a.last.Load() }

// RunPass runs one dispatch pass. Concurrent callers wait for each other.
func (a *App) RunPass(ctx context.Context) (dispatch.Summary, error) {
	a.passMu.Lock()
	defer a.passMu.Unlock()
	return a.runPassLocked(ctx)
}

// TryRunPass runs a pass unless one is already running; ok is false when the
// pass was skipped.
func (a *App) TryRunPass(ctx context.Context) (sum dispatch.Summary, ok bool, err error) {
	if !a.passMu.TryLock() {
		return dispatch.Summary{}, false, nil
	}
	defer a.passMu.Unlock()
	sum, err = a.runPassLocked(ctx)
	return sum, true, err
}

func (a *App) runPassLocked(ctx context.Context) (dispatch.Summary, error) {
	a.mu.RLock()
	orch := a.orch
	a.mu.RUnlock()

	sum, err := orch.RunPass(ctx)
	st := &PassStatus{
		PassID:      sum.PassID,
		Started:     sum.Started,
		Finished:    sum.Finished,
		Processed:   sum.Processed,
		Succeeded:   sum.Succeeded,
		Failed:      sum.Failed,
		Deactivated: sum.Deactivated,
	}
	if err != nil {
		st.Err = err.Error()
	}
	a.last.Store(st)
	return sum, err
}

// WriteTextfile exports the registry in Prometheus text format.
func (a *App) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, a.reg)
}

// applyConfig swaps in a reloaded config. Logging, alerting, dispatch tuning
// and the timezone apply live; store, transport, index and listener changes
// need a restart.
func (a *App) applyConfig(cfg *config.Config) error {
	orch, err := a.buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	if a.logs != nil {
		a.logs.Apply(mapLogConfig(cfg))
		a.logs.SetSender(textSender{tr: a.tr, account: cfg.Logging.Telegram.Account})
	}
	a.mu.Lock()
	a.cfg = cfg
	a.orch = orch
	a.mu.Unlock()
	return nil
}

// Close releases every resource opened by New.
func (a *App) Close() error {
	var errs []error
	if a.tasks != nil {
		errs = append(errs, a.tasks.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// textSender posts alert and log text through the transport as one account.
type textSender struct {
	tr      transport.Transport
	account string
}

func (s textSender) SendLog(ctx context.Context, chat string, threadID int, text string) error {
	if s.tr == nil {
		return errors.New("no transport")
	}
	_, err := s.tr.SendText(ctx, s.account, domain.Destination{Chat: chat, Topic: threadID}, text)
	return err
}
