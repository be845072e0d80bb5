// Package scheduler drives the background task cycle and one-shot deferred
// commands. It only triggers work; execution happens on the task engine.
package scheduler
