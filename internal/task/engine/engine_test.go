package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"squire/internal/eventbus"
	logx "squire/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsAndRecordsHistory(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 2, QueueSize: 4})
	var ran atomic.Int32
	if err := s.Enqueue(Task{Name: "flip a coin", Run: func(context.Context) error { ran.Add(1); return nil }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(Task{Name: "speed test", Run: func(context.Context) error { return errors.New("offline") }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 2 })

	if ran.Load() != 1 {
		t.Fatalf("ran = %d", ran.Load())
	}
	var failed int
	for _, h := range s.Snapshot().History {
		if h.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("failed history items = %d, want 1", failed)
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 2, QueueSize: 4})
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{Name: "speed test", Overlap: OverlapSkipIfRunning, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue = %v, want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })

	again := Task{Name: "speed test", Overlap: OverlapSkipIfRunning, Run: func(context.Context) error { return nil }}
	if err := s.Enqueue(again); err != nil {
		t.Fatalf("enqueue after finish: %v", err)
	}
}

func TestTimeoutAndPanic(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, QueueSize: 4})
	_ = s.Enqueue(Task{Name: "slow", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	_ = s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("kaboom") }})
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { return nil }})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 3 })

	h := s.Snapshot().History
	if h[0].Error != context.DeadlineExceeded.Error() {
		t.Fatalf("slow task error = %q", h[0].Error)
	}
	if h[1].Error != "panic: kaboom" || h[2].Error != "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestQueueFullAndStopped(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}
	if err := s.Enqueue(noop); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue before start = %v", err)
	}

	s.Start(context.Background())
	block := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "hold", Run: func(context.Context) error { close(started); <-block; return nil }})
	<-started
	if err := s.Enqueue(noop); err != nil {
		t.Fatalf("fill queue: %v", err)
	}
	if err := s.Enqueue(noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue on full queue = %v", err)
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped = %d", s.Snapshot().Dropped)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Submit(ctx, noop); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("submit on full queue = %v", err)
	}

	close(block)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Snapshot().Running {
		t.Fatalf("engine still running after Stop")
	}
}

func TestDetachedTasksDoNotWaitForWorkers(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	hang := make(chan struct{})
	defer close(hang)
	for _, name := range []string{"hung one", "hung two", "hung three"} {
		err := s.Enqueue(Task{Name: name, Detached: true, Run: func(ctx context.Context) error {
			select {
			case <-hang:
			case <-ctx.Done():
			}
			return nil
		}})
		if err != nil {
			t.Fatalf("enqueue %s: %v", name, err)
		}
	}

	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "flip a coin", Detached: true, Run: func(context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("detached task waited behind hung tasks")
	}
	if got := s.Snapshot().InFlight; got < 3 {
		t.Fatalf("in flight = %d, want at least 3", got)
	}
}
