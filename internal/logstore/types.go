package logstore

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("log store closed")

// Config configures the log store.
//
// If Driver is empty, "file" is used.
type Config struct {
	Driver      string
	Path        string        // file and sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means 10
}

// record is the on-disk shape of a log entry.
type record struct {
	At          time.Time `json:"at"`
	Account     string    `json:"account"`
	Destination string    `json:"destination"`
	Result      string    `json:"result"`
	Link        string    `json:"link,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	PassID      string    `json:"pass_id,omitempty"`
}

func key(account, destination string) string { return account + "\x00" + destination }
