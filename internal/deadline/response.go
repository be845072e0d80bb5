package deadline

import (
	"context"
	"time"
)

// Response is the envelope every handler execution produces.
//
// OK is false only when the deadline was exceeded or the caller gave up.
// A handler that ran but returned an error is OK with Failed set and the
// error text in Output.
type Response struct {
	OK      bool          `json:"ok"`
	Info    string        `json:"info"`
	Output  string        `json:"output,omitempty"`
	Failed  bool          `json:"failed,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	PID     int           `json:"pid,omitempty"`
}

// HandlerFunc is the unit of work executed inside the isolated process.
type HandlerFunc func(ctx context.Context, args []string) (string, error)

// Lookuper resolves handler names inside the child process.
type Lookuper interface {
	Lookup(name string) (HandlerFunc, bool)
}

// Handlers is a static Lookuper.
type Handlers map[string]HandlerFunc

func (h Handlers) Lookup(name string) (HandlerFunc, bool) {
	fn, ok := h[name]
	return fn, ok && fn != nil
}

type request struct {
	Handler string   `json:"handler"`
	Args    []string `json:"args,omitempty"`
}

type result struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}
