// Package dispatch turns one incoming phrase into a reply: it classifies the
// phrase, runs compatible commands under a deadline and picks the delivery
// channel for the answer.
package dispatch

import (
	"context"
	"errors"
	"time"

	"squire/internal/deadline"
	"squire/internal/delivery"
	"squire/internal/skills"
	"squire/internal/storage"
)

var ErrNoSkill = errors.New("dispatch: no skill for command")

type Status int

const (
	StatusOK Status = iota
	StatusNoContent
	StatusRejected
	StatusDeferred
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoContent:
		return "no_content"
	case StatusRejected:
		return "rejected"
	case StatusDeferred:
		return "deferred"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Request is one phrase from a transport.
type Request struct {
	Text          string
	NativeAudio   bool
	SpeechTimeout time.Duration
	Source        string // http, telegram, cli
	Actor         string
}

type Reply struct {
	Status   Status
	Text     string
	Delivery delivery.Delivery
}

type Config struct {
	Title           string
	CommandDeadline time.Duration
}

type Executor interface {
	Run(ctx context.Context, timeout time.Duration, handler string, args ...string) (deadline.Response, error)
}

type Resolver interface {
	Resolve(text string) (skills.Skill, bool)
}

type Deferrer interface {
	Defer(command string, after, timeout time.Duration) (string, error)
}

type SecretHandler interface {
	Handle(ctx context.Context, text, raw string) (string, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, text string, nativeAudio bool, speechTimeout time.Duration) delivery.Delivery
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}
