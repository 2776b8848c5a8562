package domain

import "fmt"

// ConfigError reports a malformed task row (invalid cron expression, bad
// destination). It is fatal for the task in the current pass only.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
