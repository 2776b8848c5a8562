package config

import (
	"reflect"
	"strings"

	"tgdispatch/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens and DSNs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", newCfg.Timezone))
	}

	// Accounts: names and whether the token changed, never the token itself.
	if !reflect.DeepEqual(oldCfg.AccountNames(), newCfg.AccountNames()) {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Strings("accounts", newCfg.AccountNames()))
	} else {
		for name, acc := range newCfg.Accounts {
			if oldCfg.Accounts[name].Token != acc.Token {
				changed = append(changed, "accounts")
				attrs = append(attrs, logx.Bool("accounts.token_rotated", true))
				break
			}
		}
	}

	if oldCfg.Tasks != newCfg.Tasks {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.String("tasks.driver", newCfg.Tasks.Driver),
			logx.String("tasks.path", newCfg.Tasks.Path),
		)
	}

	if oldCfg.LogStore != newCfg.LogStore {
		changed = append(changed, "log_store")
		attrs = append(attrs,
			logx.String("log_store.driver", newCfg.LogStore.Driver),
			logx.String("log_store.path", newCfg.LogStore.Path),
			logx.Bool("log_store.dsn_set", strings.TrimSpace(newCfg.LogStore.DSN) != ""),
		)
	}

	if oldCfg.Index != newCfg.Index {
		changed = append(changed, "index")
		attrs = append(attrs, logx.Bool("index.enabled", newCfg.Index.Enabled))
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.window_size", newCfg.Dispatch.WindowSize),
			logx.Float64("dispatch.buffer_factor", newCfg.Dispatch.BufferFactor),
		)
	}

	if oldCfg.Transport != newCfg.Transport {
		changed = append(changed, "transport")
		attrs = append(attrs, logx.String("transport.request_timeout", newCfg.Transport.RequestTimeout))
	}

	if oldCfg.Alert != newCfg.Alert {
		changed = append(changed, "alert")
		attrs = append(attrs,
			logx.Bool("alert.enabled", newCfg.Alert.Enabled),
			logx.Bool("alert.chat_set", strings.TrimSpace(newCfg.Alert.Chat) != ""),
			logx.Bool("alert.publish_idle", newCfg.Alert.PublishIdle),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Serve != newCfg.Serve {
		changed = append(changed, "serve")
		attrs = append(attrs,
			logx.String("serve.schedule", newCfg.Serve.Schedule),
			logx.String("serve.listen", newCfg.Serve.Listen),
			logx.Bool("serve.pprof", newCfg.Serve.Pprof),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}

	return changed, attrs
}

// RequiresRestart reports whether a change touches resources that serve mode
// opens once at startup (stores, index, HTTP listener).
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "tasks", "log_store", "index", "serve", "accounts", "transport":
			return true
		}
	}
	return false
}
