package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgdispatch/internal/config"
	"tgdispatch/internal/runtime/supervisor"
	"tgdispatch/internal/transport/telegram"
	"tgdispatch/pkg/logx"
)

const pruneEvery = time.Hour

var ErrIndexDisabled = errors.New("message index is disabled (index.enabled)")

// RunIndex runs only the message index listener and its pruning loop.
func (a *App) RunIndex(ctx context.Context) error {
	if a.index == nil {
		return ErrIndexDisabled
	}
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	if err := a.startIndex(sup, a.Config()); err != nil {
		sup.Cancel()
		return err
	}
	<-sup.Context().Done()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return sup.Stop(sctx)
}

// startIndex starts the listener and the prune loop under sup.
func (a *App) startIndex(sup *supervisor.Supervisor, cfg *config.Config) error {
	st, err := mapIndexSettings(cfg)
	if err != nil {
		return err
	}
	lis, err := telegram.NewListener(telegram.ListenerConfig{
		Token:       cfg.Accounts[cfg.Index.Account].Token,
		APIURL:      cfg.Transport.APIURL,
		PollTimeout: st.pollTimeout,
	}, a.index, a.log)
	if err != nil {
		return fmt.Errorf("index listener: %w", err)
	}
	a.mu.Lock()
	a.listener = lis
	a.mu.Unlock()

	log := a.log.With(logx.String("comp", "msgindex"))
	sup.GoRestart("index.listen", lis.Run, supervisor.WithRestartOnCleanExit(true))
	sup.Go("index.prune", func(ctx context.Context) error {
		t := time.NewTicker(pruneEvery)
		defer t.Stop()
		for {
			a.pruneIndex(ctx, st.retention, log)
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
		}
	})
	log.Info("index listener started",
		logx.String("account", cfg.Index.Account),
		logx.String("path", st.path),
		logx.Duration("retention", st.retention),
	)
	return nil
}

func (a *App) pruneIndex(ctx context.Context, retention time.Duration, log logx.Logger) {
	if retention <= 0 {
		return
	}
	n, err := a.index.Prune(ctx, a.now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("index prune failed", logx.Err(err))
		}
		return
	}
	if n > 0 {
		log.Info("index pruned", logx.Int64("removed", n))
	}
}
