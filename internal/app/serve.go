package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"tgdispatch/internal/config"
	"tgdispatch/internal/cronmark"
	"tgdispatch/internal/runtime/supervisor"
	"tgdispatch/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

// Serve runs passes on serve.schedule until ctx is cancelled. It also watches
// the config file, serves /metrics and /healthz when serve.listen is set and
// runs the message index listener when the index is enabled.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config()
	log := a.log.With(logx.String("comp", "serve"))

	loc, err := cronmark.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	var ln net.Listener
	if cfg.Serve.Listen != "" {
		if ln, err = net.Listen("tcp", cfg.Serve.Listen); err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Serve.Listen, err)
		}
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(cfg.Serve.Schedule, func() { a.scheduledPass(sup.Context(), log) }); err != nil {
		if ln != nil {
			_ = ln.Close()
		}
		sup.Cancel()
		return fmt.Errorf("serve.schedule: %w", err)
	}
	sup.Go("cron", func(ctx context.Context) error {
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})

	sup.GoRestart("config.watch", a.cfgm.Watch)
	updates := a.cfgm.Subscribe(1)
	sup.Go("config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-updates:
				if !ok {
					return nil
				}
				a.reload(next, log)
			}
		}
	})

	if ln != nil {
		srv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
		sup.Go("http", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
			log.Info("http listening", logx.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if a.index != nil {
		if err := a.startIndex(sup, cfg); err != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
			return err
		}
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		sup.Go("watchdog", func(ctx context.Context) error {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	log.Info("serving",
		logx.String("schedule", cfg.Serve.Schedule),
		logx.String("timezone", loc.String()),
		logx.String("listen", cfg.Serve.Listen),
	)

	<-sup.Context().Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("stopping")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sup.Stop(sctx); err != nil {
		return err
	}
	return nil
}

// scheduledPass runs one pass from the cron trigger. A trigger that fires while
// the previous pass is still running is skipped.
func (a *App) scheduledPass(ctx context.Context, log logx.Logger) {
	if ctx.Err() != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, passTimeout(a.Config()))
	defer cancel()

	sum, ran, err := a.TryRunPass(pctx)
	switch {
	case !ran:
		log.Warn("previous pass still running; trigger skipped")
	case err != nil:
		log.Error("pass failed", logx.String("pass_id", sum.PassID), logx.Err(err))
	default:
		log.Debug("pass done",
			logx.String("pass_id", sum.PassID),
			logx.Int("processed", sum.Processed),
			logx.Duration("took", sum.Finished.Sub(sum.Started)),
		)
	}
}

func (a *App) reload(next *config.Config, log logx.Logger) {
	prev := a.Config()
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		return
	}
	fields := append([]logx.Field{logx.Strings("changed", changed)}, attrs...)
	log.Info("config changed", fields...)
	if config.RequiresRestart(changed) {
		log.Warn("some changes take effect after restart", logx.Strings("changed", changed))
	}
	if err := a.applyConfig(next); err != nil {
		log.Error("config apply failed", logx.Err(err))
	}
}
