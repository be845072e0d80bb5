package scheduler

import (
	"context"
	"time"

	"squire/internal/bgtask"
	"squire/internal/deadline"
	"squire/internal/task/engine"
)

// Config controls the cycle trigger.
type Config struct {
	// Enabled turns the background task cycle on. Deferred commands work either way.
	Enabled      bool
	Cadence      string // cron spec, duration or HH:MM; default "@every 1s"
	Timezone     string // IANA TZ; ignore_hours are evaluated here
	TaskDeadline time.Duration
}

// Runner executes one command under a deadline.
type Runner interface {
	RunCommand(ctx context.Context, command string, timeout time.Duration) (deadline.Response, error)
}

// TaskSource yields the current task list. *bgtask.Store implements it.
type TaskSource interface {
	Load(ctx context.Context) []bgtask.BackgroundTask
}

// MarkStore persists last-run marks. storage.Store implements it.
type MarkStore interface {
	PutMark(ctx context.Context, key string, at time.Time) error
	GetMark(ctx context.Context, key string) (time.Time, bool, error)
	DeleteMark(ctx context.Context, key string) error
}

// Pending is a deferred command waiting for its timer.
type Pending struct {
	ID      string        `json:"id"`
	Command string        `json:"command"`
	At      time.Time     `json:"at"`
	Timeout time.Duration `json:"timeout"`
}

// CycleReport describes what one cycle did, for logs and the CLI.
type CycleReport struct {
	At      time.Time `json:"at"`
	Loaded  int       `json:"loaded"`
	Queued  []string  `json:"queued,omitempty"`
	Ignored []string  `json:"ignored,omitempty"`
	Skipped []string  `json:"skipped,omitempty"`
}

// Snapshot is a diagnostics view.
type Snapshot struct {
	Enabled  bool
	Cadence  string
	Timezone string
	Next     time.Time
	Prev     time.Time
	Tracked  int
	Pending  []Pending
	Engine   engine.Snapshot
}

type deferred struct {
	Pending
	timer *time.Timer
}
