package config

// Config is the on-disk configuration. The file may be JSON, YAML or TOML;
// all three decode strictly into this shape.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// Timezone is the IANA zone cron expressions are evaluated in.
	// Default: Europe/Moscow.
	Timezone string `json:"timezone,omitempty"`

	// Accounts maps the account names used in task rows to bot tokens.
	// Tokens may be left empty here and supplied as TGDISPATCH_TOKEN_<NAME>.
	Accounts map[string]AccountConfig `json:"accounts"`

	Tasks     TaskStoreConfig `json:"tasks"`
	LogStore  LogStoreConfig  `json:"log_store"`
	Index     IndexConfig     `json:"index,omitempty"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Transport TransportConfig `json:"transport,omitempty"`
	Alert     AlertConfig     `json:"alert,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	Serve     ServeConfig     `json:"serve,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type AccountConfig struct {
	Token string `json:"token,omitempty"`
}

// TaskStoreConfig selects where task rows live.
//
// Example:
//
//	"tasks": { "driver": "file", "path": "./tasks.yaml" }
type TaskStoreConfig struct {
	Driver      string `json:"driver,omitempty"` // file (default) or sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// LogStoreConfig selects the dispatch log backend.
type LogStoreConfig struct {
	Driver      string `json:"driver,omitempty"` // file (default), sqlite or postgres
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

// IndexConfig controls the message index used for album lookups.
// Without it every link payload is forwarded as a single message.
type IndexConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path,omitempty"`
	Account     string `json:"account,omitempty"` // bot that listens; default: first account
	PollTimeout string `json:"poll_timeout,omitempty"`
	Retention   string `json:"retention,omitempty"` // default 720h
}

// DispatchConfig tunes one dispatch pass.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - window_size: 20
//   - buffer_factor: 1.2
//   - default_min_interval: "1h"
//   - log_timeout: "10s"
type DispatchConfig struct {
	Workers            int     `json:"workers,omitempty"`
	WindowSize         int     `json:"window_size,omitempty"`
	BufferFactor       float64 `json:"buffer_factor,omitempty"`
	DefaultMinInterval string  `json:"default_min_interval,omitempty"`
	LogTimeout         string  `json:"log_timeout,omitempty"`
}

type TransportConfig struct {
	APIURL         string  `json:"api_url,omitempty"`
	RequestTimeout string  `json:"request_timeout,omitempty"` // default 15s
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
}

// AlertConfig controls the pass summary message.
type AlertConfig struct {
	Enabled   bool   `json:"enabled"`
	Account   string `json:"account,omitempty"`
	Chat      string `json:"chat,omitempty"`
	ThreadID  int    `json:"thread_id,omitempty"`
	ConfigURL string `json:"config_url,omitempty"` // link to the task sheet
	// PublishIdle also publishes passes where every task was skipped.
	PublishIdle bool `json:"publish_idle,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Account    string `json:"account,omitempty"`
	Chat       string `json:"chat,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ServeConfig controls the long-running mode.
type ServeConfig struct {
	// Schedule is the cron expression that triggers passes. Default: every minute.
	Schedule string `json:"schedule,omitempty"`
	// Listen is the address of the /metrics and /healthz endpoints; empty disables them.
	Listen string `json:"listen,omitempty"`
	// PassTimeout bounds one pass. Default 10m.
	PassTimeout string `json:"pass_timeout,omitempty"`
	// Pprof mounts /debug/pprof on the same listener. Bind Listen to
	// localhost when enabling it.
	Pprof bool `json:"pprof,omitempty"`
}

type MetricsConfig struct {
	// Textfile, when set, receives the registry in Prometheus text format after
	// each one-shot run (node_exporter textfile collector).
	Textfile string `json:"textfile,omitempty"`
}
