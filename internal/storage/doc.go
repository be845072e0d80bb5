// Package storage persists the execution audit trail and the scheduler's
// per-task cadence marks so both survive restarts.
package storage
