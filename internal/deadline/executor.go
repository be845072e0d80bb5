package deadline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"squire/internal/eventbus"
	logx "squire/pkg/logx"
)

const (
	childEnv = "SQUIRE_DEADLINE_CHILD"

	// MaxGrace bounds the SIGTERM-to-SIGKILL window and the reap wait.
	MaxGrace = 100 * time.Millisecond

	maxResultBytes = 4 << 20
)

type Config struct {
	// Path is the binary to re-exec. Empty means os.Executable().
	Path string
	// Args are passed to the child before anything else.
	Args []string
	// Env is appended to the parent environment.
	Env []string
	// Grace defaults to MaxGrace and is capped by it.
	Grace time.Duration
	// Stderr receives the child's stderr. Nil means os.Stderr.
	Stderr io.Writer
}

// Executor runs named handlers in a fresh OS process under a wall-clock deadline.
type Executor struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Executor {
	if cfg.Grace <= 0 || cfg.Grace > MaxGrace {
		cfg.Grace = MaxGrace
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Executor{cfg: cfg, log: log.With(logx.String("comp", "executor")), bus: bus}
}

// Run executes handler with args in a child process and waits at most timeout.
//
// A deadline overrun terminates the child's whole process group and returns
// an OK=false Response with a nil error. Only a failure to start the child is
// returned as an error, along with ctx.Err() when the caller cancels.
func (e *Executor) Run(ctx context.Context, timeout time.Duration, handler string, args ...string) (Response, error) {
	if timeout <= 0 {
		return Response{}, fmt.Errorf("run %s: deadline must be positive", handler)
	}
	path := e.cfg.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return Response{}, fmt.Errorf("spawn %s: %w", handler, err)
		}
		path = exe
	}
	body, err := json.Marshal(request{Handler: handler, Args: args})
	if err != nil {
		return Response{}, fmt.Errorf("spawn %s: %w", handler, err)
	}

	rd, wr, err := os.Pipe()
	if err != nil {
		return Response{}, fmt.Errorf("spawn %s: %w", handler, err)
	}

	cmd := exec.Command(path, e.cfg.Args...)
	cmd.Env = append(append(os.Environ(), e.cfg.Env...), childEnv+"=1")
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stderr = e.cfg.Stderr
	cmd.ExtraFiles = []*os.File{wr}
	cmd.WaitDelay = e.cfg.Grace
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = rd.Close()
		_ = wr.Close()
		return Response{}, fmt.Errorf("spawn %s: %w", handler, err)
	}
	_ = wr.Close()
	pid := cmd.Process.Pid

	resCh := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(io.LimitReader(rd, maxResultBytes))
		_ = rd.Close()
		resCh <- b
	}()
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case werr := <-waitCh:
		var out []byte
		select {
		case out = <-resCh:
		case <-time.After(e.cfg.Grace):
		}
		resp := complete(handler, pid, time.Since(start), werr, out)
		eventbus.Emit(e.bus, eventbus.HandlerCompleted, map[string]any{"handler": handler, "pid": pid, "elapsed_ms": resp.Elapsed.Milliseconds(), "failed": resp.Failed})
		return resp, nil

	case <-timer.C:
		e.terminate(handler, pid, waitCh)
		resp := Response{
			OK:      false,
			Info:    fmt.Sprintf("%s exceeded the %s deadline", handler, timeout),
			Elapsed: time.Since(start),
			PID:     pid,
		}
		e.log.Warn("handler deadline exceeded", logx.String("handler", handler), logx.Int("pid", pid), logx.Duration("deadline", timeout))
		eventbus.Emit(e.bus, eventbus.HandlerTimeout, map[string]any{"handler": handler, "pid": pid, "deadline_ms": timeout.Milliseconds()})
		return resp, nil

	case <-ctx.Done():
		e.terminate(handler, pid, waitCh)
		return Response{OK: false, Info: fmt.Sprintf("%s canceled", handler), Elapsed: time.Since(start), PID: pid}, ctx.Err()
	}
}

// terminate signals the process group with SIGTERM, then SIGKILL after the
// grace window. A child not reaped within another grace window is logged and
// reaped in the background.
func (e *Executor) terminate(handler string, pid int, waitCh <-chan error) {
	grace := e.cfg.Grace
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		e.log.Debug("sigterm failed", logx.Int("pid", pid), logx.Err(err))
	}
	select {
	case <-waitCh:
		return
	case <-time.After(grace):
	}

	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		e.log.Warn("sigkill failed", logx.String("handler", handler), logx.Int("pid", pid), logx.Err(err))
	}
	select {
	case <-waitCh:
		return
	case <-time.After(grace):
	}

	e.log.Warn("handler process not reaped within grace", logx.String("handler", handler), logx.Int("pid", pid))
	go func() {
		err := <-waitCh
		e.log.Debug("handler process reaped late", logx.String("handler", handler), logx.Int("pid", pid), logx.Err(err))
	}()
}

func complete(handler string, pid int, elapsed time.Duration, werr error, out []byte) Response {
	resp := Response{
		OK:      true,
		Info:    fmt.Sprintf("%s completed in %s", handler, elapsed.Round(time.Millisecond)),
		Elapsed: elapsed,
		PID:     pid,
	}
	if len(bytes.TrimSpace(out)) == 0 {
		resp.Failed = true
		if werr == nil {
			resp.Output = fmt.Sprintf("%s exited without a result", handler)
		} else {
			resp.Output = fmt.Sprintf("%s exited without a result: %v", handler, werr)
		}
		return resp
	}
	var res result
	if err := json.Unmarshal(out, &res); err != nil {
		resp.Failed = true
		resp.Output = fmt.Sprintf("%s returned a malformed result: %v", handler, err)
		return resp
	}
	if res.Error != "" {
		resp.Failed = true
		resp.Output = res.Error
		return resp
	}
	resp.Output = res.Output
	return resp
}
