package domain

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Task is one row of the task sheet. It is loaded fresh at the start of every
// pass. Schedule, Active, Result and Link may be changed by the pass and are
// written back through the config store.
type Task struct {
	ID          string
	Row         int
	Active      bool
	Account     string
	Schedule    string
	Destination string
	Payload     string

	// Result and Link mirror the last outcome shown on the row.
	Result string
	Link   string
}

// TaskID returns the stable identifier of a task row: a 16 hex char blake2b
// digest of account, destination and payload. Rows keep their id across passes
// as long as those three columns are unchanged.
func TaskID(account, destination, payload string) string {
	h, _ := blake2b.New(8, nil)
	_, _ = h.Write([]byte(account + "_" + destination + "_" + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// EnsureID fills ID from the row contents when the store did not supply one.
func (t *Task) EnsureID() {
	if t.ID == "" {
		t.ID = TaskID(t.Account, t.Destination, t.Payload)
	}
}

// LogEntry records one dispatch attempt (or a failed evaluation).
// Entries are append-only.
type LogEntry struct {
	Timestamp   time.Time
	Account     string
	Destination string
	Result      string
	Link        string
	TaskID      string
	PassID      string
}

// MessageRef identifies one message in a chat. GroupKey is the album id and is
// empty for standalone messages.
type MessageRef struct {
	Chat     string
	ID       int
	GroupKey string
}

// Result tags written to the log store and shown on the task row.
const (
	ResultSent      = "Message sent successfully"
	ResultForwarded = "Message forwarded successfully"
	ErrorPrefix     = "Error: "
)

// IsFailure reports whether a result tag denotes a failed attempt.
func IsFailure(result string) bool {
	return len(result) >= len(ErrorPrefix) && result[:len(ErrorPrefix)] == ErrorPrefix
}

// ScheduleUpdate is a rewritten cron expression to persist for one task.
type ScheduleUpdate struct {
	TaskID   string
	Row      int
	Schedule string
}

// Outcome is the structured result of processing one task, written back to
// the task row: last result tag, optional message link, activity flag and the
// possibly rewritten schedule.
type Outcome struct {
	TaskID   string
	Row      int
	Result   string
	Link     string
	Active   bool
	Schedule string
}
