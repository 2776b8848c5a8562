// Package logx is the structured logging layer: a value-type Logger with
// field funcs over zerolog, a Service that swaps sinks on config reload, and
// an optional rate-limited Telegram sink for operator warnings.
package logx
