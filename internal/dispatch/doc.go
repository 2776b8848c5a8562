// Package dispatch runs one pass over the task sheet: due-check, media group
// resolution, delivery through the transport, rate-limit rescheduling and
// outcome logging.
//
// A pass is a pure function of (tasks, latest log entry per key, now). All
// coordination state lives in a pass-scoped value that is discarded when the
// pass returns.
package dispatch
