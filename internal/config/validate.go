package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode"

	"github.com/robfig/cron/v3"
)

const (
	DefaultTimezone      = "Europe/Moscow"
	DefaultServeSchedule = "* * * * *"
	DefaultIndexPath     = "./data/msgindex.db"
	DefaultLogStorePath  = "./data/dispatch"

	// EnvTokenPrefix + upper-cased account name overrides accounts.<name>.token.
	EnvTokenPrefix = "TGDISPATCH_TOKEN_"
	// EnvLogDSN overrides log_store.dsn.
	EnvLogDSN = "TGDISPATCH_LOG_DSN"
)

// EnvTokenKey returns the environment variable consulted for account's token.
// Characters outside [A-Z0-9] become underscores.
func EnvTokenKey(account string) string {
	var b strings.Builder
	b.WriteString(EnvTokenPrefix)
	for _, r := range strings.ToUpper(account) {
		if (r >= 'A' && r <= 'Z') || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ApplyEnv overlays secrets from the environment. getenv is os.Getenv in
// production.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	for name, acc := range c.Accounts {
		if v := strings.TrimSpace(getenv(EnvTokenKey(name))); v != "" {
			acc.Token = v
			c.Accounts[name] = acc
		}
	}
	if v := strings.TrimSpace(getenv(EnvLogDSN)); v != "" {
		c.LogStore.DSN = v
	}
}

// ApplyDefaults fills omitted fields that have a single sensible value.
// Numeric tunables keep their zero value; their consumers own the defaults.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Tasks.Driver == "" {
		c.Tasks.Driver = "file"
	}
	if c.LogStore.Driver == "" {
		c.LogStore.Driver = "file"
	}
	if c.LogStore.Path == "" && c.LogStore.Driver != "postgres" {
		c.LogStore.Path = DefaultLogStorePath
	}
	if c.Index.Enabled && c.Index.Path == "" {
		c.Index.Path = DefaultIndexPath
	}
	if c.Index.Enabled && c.Index.Account == "" {
		c.Index.Account = c.FirstAccount()
	}
	if c.Alert.Account == "" {
		c.Alert.Account = c.FirstAccount()
	}
	if c.Logging.Telegram.Account == "" {
		c.Logging.Telegram.Account = c.FirstAccount()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Serve.Schedule == "" {
		c.Serve.Schedule = DefaultServeSchedule
	}
}

// AccountNames returns the configured account names, sorted.
func (c *Config) AccountNames() []string {
	out := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FirstAccount returns the alphabetically first account, or "".
func (c *Config) FirstAccount() string {
	names := c.AccountNames()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Tokens returns account name -> token.
func (c *Config) Tokens() map[string]string {
	out := make(map[string]string, len(c.Accounts))
	for name, acc := range c.Accounts {
		out[name] = acc.Token
	}
	return out
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		add("timezone: %w", err)
	}

	if len(c.Accounts) == 0 {
		add("accounts: at least one account is required")
	}
	for _, name := range c.AccountNames() {
		if strings.TrimSpace(c.Accounts[name].Token) == "" {
			add("accounts.%s.token: empty (set it or %s)", name, EnvTokenKey(name))
		}
	}

	switch c.Tasks.Driver {
	case "file", "sqlite":
	default:
		add("tasks.driver: unknown driver %q", c.Tasks.Driver)
	}
	if strings.TrimSpace(c.Tasks.Path) == "" {
		add("tasks.path: required")
	}

	switch c.LogStore.Driver {
	case "file", "jsonl", "sqlite":
		if strings.TrimSpace(c.LogStore.Path) == "" {
			add("log_store.path: required for driver %q", c.LogStore.Driver)
		}
	case "postgres":
		if strings.TrimSpace(c.LogStore.DSN) == "" {
			add("log_store.dsn: required for postgres (or %s)", EnvLogDSN)
		}
	default:
		add("log_store.driver: unknown driver %q", c.LogStore.Driver)
	}

	if c.Dispatch.Workers < 0 {
		add("dispatch.workers: must be >= 0")
	}
	if ws := c.Dispatch.WindowSize; ws != 0 && (ws < 3 || ws > 100) {
		add("dispatch.window_size: must be within 3..100")
	}
	if bf := c.Dispatch.BufferFactor; bf != 0 && bf < 1 {
		add("dispatch.buffer_factor: must be >= 1")
	}

	if c.Index.Enabled {
		if _, ok := c.Accounts[c.Index.Account]; !ok {
			add("index.account: unknown account %q", c.Index.Account)
		}
	}
	if c.Alert.Enabled {
		if strings.TrimSpace(c.Alert.Chat) == "" {
			add("alert.chat: required when alert is enabled")
		}
		if _, ok := c.Accounts[c.Alert.Account]; !ok {
			add("alert.account: unknown account %q", c.Alert.Account)
		}
	}
	if t := c.Logging.Telegram; t.Enabled {
		if strings.TrimSpace(t.Chat) == "" {
			add("logging.telegram.chat: required when enabled")
		}
		if _, ok := c.Accounts[t.Account]; !ok {
			add("logging.telegram.account: unknown account %q", t.Account)
		}
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add("logging.file.path: required when enabled")
	}

	if _, err := cron.ParseStandard(c.Serve.Schedule); err != nil {
		add("serve.schedule: %w", err)
	}

	for path, raw := range map[string]string{
		"tasks.busy_timeout":            c.Tasks.BusyTimeout,
		"log_store.busy_timeout":        c.LogStore.BusyTimeout,
		"index.poll_timeout":            c.Index.PollTimeout,
		"index.retention":               c.Index.Retention,
		"dispatch.default_min_interval": c.Dispatch.DefaultMinInterval,
		"dispatch.log_timeout":          c.Dispatch.LogTimeout,
		"transport.request_timeout":     c.Transport.RequestTimeout,
		"serve.pass_timeout":            c.Serve.PassTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}
