package app

import (
	"time"

	"tgdispatch/internal/config"
	"tgdispatch/internal/dispatch"
	"tgdispatch/internal/logstore"
	"tgdispatch/internal/reschedule"
	"tgdispatch/internal/taskstore"
	"tgdispatch/internal/transport/telegram"
	"tgdispatch/pkg/logx"
)

const (
	defaultBusyTimeout   = time.Second
	defaultPassTimeout   = 10 * time.Minute
	defaultIndexRetain   = 30 * 24 * time.Hour
	defaultIndexPollWait = 10 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			Chat:       cfg.Logging.Telegram.Chat,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTaskStoreConfig(cfg *config.Config) (taskstore.Config, error) {
	busy, err := config.ParseDurationOrDefault("tasks.busy_timeout", cfg.Tasks.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return taskstore.Config{}, err
	}
	return taskstore.Config{Driver: cfg.Tasks.Driver, Path: cfg.Tasks.Path, BusyTimeout: busy}, nil
}

func mapLogStoreConfig(cfg *config.Config) (logstore.Config, error) {
	busy, err := config.ParseDurationOrDefault("log_store.busy_timeout", cfg.LogStore.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return logstore.Config{}, err
	}
	return logstore.Config{
		Driver:      cfg.LogStore.Driver,
		Path:        cfg.LogStore.Path,
		DSN:         cfg.LogStore.DSN,
		BusyTimeout: busy,
		MaxConns:    cfg.LogStore.MaxConns,
	}, nil
}

func mapTransportConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("transport.request_timeout", cfg.Transport.RequestTimeout, telegram.DefaultRequestTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Accounts:       cfg.Tokens(),
		APIURL:         cfg.Transport.APIURL,
		RequestTimeout: timeout,
		RatePerSec:     cfg.Transport.RatePerSec,
		Burst:          cfg.Transport.Burst,
	}, nil
}

func mapDispatchOptions(cfg *config.Config) (dispatch.Options, error) {
	minInterval, err := config.ParseDurationOrDefault("dispatch.default_min_interval", cfg.Dispatch.DefaultMinInterval, reschedule.DefaultMinInterval)
	if err != nil {
		return dispatch.Options{}, err
	}
	logTimeout, err := config.ParseDurationField("dispatch.log_timeout", cfg.Dispatch.LogTimeout)
	if err != nil {
		return dispatch.Options{}, err
	}
	return dispatch.Options{
		Workers:    cfg.Dispatch.Workers,
		WindowSize: cfg.Dispatch.WindowSize,
		Reschedule: reschedule.Options{
			BufferFactor:       cfg.Dispatch.BufferFactor,
			DefaultMinInterval: minInterval,
		},
		LogTimeout:  logTimeout,
		PublishIdle: cfg.Alert.PublishIdle,
	}, nil
}

type indexSettings struct {
	path        string
	busy        time.Duration
	pollTimeout time.Duration
	retention   time.Duration
}

func mapIndexSettings(cfg *config.Config) (indexSettings, error) {
	poll, err := config.ParseDurationOrDefault("index.poll_timeout", cfg.Index.PollTimeout, defaultIndexPollWait)
	if err != nil {
		return indexSettings{}, err
	}
	retain, err := config.ParseDurationOrDefault("index.retention", cfg.Index.Retention, defaultIndexRetain)
	if err != nil {
		return indexSettings{}, err
	}
	return indexSettings{path: cfg.Index.Path, busy: defaultBusyTimeout, pollTimeout: poll, retention: retain}, nil
}

func passTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("serve.pass_timeout", cfg.Serve.PassTimeout, defaultPassTimeout)
	if err != nil {
		return defaultPassTimeout
	}
	return d
}
