package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": jsonl audit log plus a snapshot/journal pair for marks
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one execution: a command, a background task, a deferred
// command, a secret request or a shutdown.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Actor   string    `json:"actor,omitempty"`
	Kind    string    `json:"kind"`
	Command string    `json:"command"`
	Handler string    `json:"handler,omitempty"`
	OK      bool      `json:"ok"`
	Info    string    `json:"info,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
