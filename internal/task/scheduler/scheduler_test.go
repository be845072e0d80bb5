package scheduler

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"squire/internal/bgtask"
	"squire/internal/deadline"
	"squire/internal/task/engine"
	logx "squire/pkg/logx"
)

type recordingRunner struct {
	mu   sync.Mutex
	cmds []string
}

func (r *recordingRunner) RunCommand(_ context.Context, command string, _ time.Duration) (deadline.Response, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, command)
	r.mu.Unlock()
	return deadline.Response{OK: true, Info: command + " completed"}, nil
}

func (r *recordingRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cmds...)
}

// stuckRunner hangs on commands starting with "hang" and fails "broken".
type stuckRunner struct {
	recordingRunner
	release chan struct{}
}

func (r *stuckRunner) RunCommand(ctx context.Context, command string, timeout time.Duration) (deadline.Response, error) {
	switch {
	case strings.HasPrefix(command, "hang"):
		select {
		case <-r.release:
		case <-ctx.Done():
		}
		return deadline.Response{OK: false, Info: command + " exceeded the deadline"}, nil
	case command == "broken":
		return deadline.Response{}, errors.New("spawn broken: no such file")
	}
	return r.recordingRunner.RunCommand(ctx, command, timeout)
}

type staticTasks struct {
	mu    sync.Mutex
	tasks []bgtask.BackgroundTask
}

func (s *staticTasks) Load(context.Context) []bgtask.BackgroundTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bgtask.BackgroundTask(nil), s.tasks...)
}

type memMarks struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (m *memMarks) PutMark(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = at
	return nil
}

func (m *memMarks) GetMark(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.m[key]
	return at, ok, nil
}

func (m *memMarks) DeleteMark(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T) *engine.Service {
	t.Helper()
	eng := engine.New(engine.Config{Workers: 2, QueueSize: 8}, logx.Nop(), nil)
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return eng
}

func waitForCommands(t *testing.T, r *recordingRunner, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for len(r.commands()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("runner saw %v, want %d commands", r.commands(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return r.commands()
}

func TestRunCycleHonorsIntervalsAndIgnoreHours(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 5, 1, 2, 59, 30, 0, time.UTC)}
	src := &staticTasks{tasks: []bgtask.BackgroundTask{
		{Seconds: 60, Task: "flip a coin"},
		{Seconds: 60, Task: "speed test", IgnoreHours: bgtask.IgnoreHours{3}},
	}}
	marks := &memMarks{m: map[string]time.Time{}}
	runner := &recordingRunner{}
	s := New(Config{Enabled: true, Timezone: "UTC", TaskDeadline: time.Second},
		newEngine(t), runner, src, logx.Nop(), WithClock(clock.Now), WithMarks(marks))
	ctx := context.Background()

	if r := s.RunCycle(ctx); len(r.Queued) != 0 || r.Loaded != 2 {
		t.Fatalf("first sighting report = %+v", r)
	}

	clock.Advance(61 * time.Second) // 03:00:31
	r := s.RunCycle(ctx)
	if !reflect.DeepEqual(r.Queued, []string{"flip a coin"}) || !reflect.DeepEqual(r.Ignored, []string{"speed test"}) {
		t.Fatalf("due report = %+v", r)
	}
	if got := waitForCommands(t, runner, 1); got[0] != "flip a coin" {
		t.Fatalf("ran %v", got)
	}

	clock.Advance(30 * time.Second)
	if r := s.RunCycle(ctx); len(r.Queued)+len(r.Ignored) != 0 {
		t.Fatalf("nothing should be due: %+v", r)
	}

	clock.Advance(60 * time.Minute) // 04:01:01
	r = s.RunCycle(ctx)
	if len(r.Queued) != 2 {
		t.Fatalf("after ignored hour report = %+v", r)
	}
	waitForCommands(t, runner, 3)

	src.mu.Lock()
	src.tasks = src.tasks[:1]
	src.mu.Unlock()
	s.RunCycle(ctx)
	if _, ok, _ := marks.GetMark(ctx, "60|speed test"); ok {
		t.Fatalf("mark of removed task not forgotten")
	}
	if _, ok, _ := marks.GetMark(ctx, "60|flip a coin"); !ok {
		t.Fatalf("mark of live task missing")
	}
}

func TestRunCycleRestoresPersistedMark(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	marks := &memMarks{m: map[string]time.Time{"30|flip a coin": now.Add(-time.Minute)}}
	runner := &recordingRunner{}
	src := &staticTasks{tasks: []bgtask.BackgroundTask{{Seconds: 30, Task: "flip a coin"}}}
	s := New(Config{Enabled: true, TaskDeadline: time.Second}, newEngine(t), runner, src, logx.Nop(),
		WithClock(func() time.Time { return now }), WithMarks(marks))

	if r := s.RunCycle(context.Background()); len(r.Queued) != 1 {
		t.Fatalf("restored mark should make the task due: %+v", r)
	}
	waitForCommands(t, runner, 1)
	if at, _, _ := marks.GetMark(context.Background(), "30|flip a coin"); !at.Equal(now) {
		t.Fatalf("mark = %v, want %v", at, now)
	}
}

func TestDeferAndCancel(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	s := New(Config{}, newEngine(t), runner, nil, logx.Nop())
	if _, err := s.Defer("flip a coin", time.Millisecond, time.Second); err == nil {
		t.Fatalf("defer before start accepted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	keep, err := s.Defer("what time is it", 20*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("defer: %v", err)
	}
	drop, _ := s.Defer("speed test", time.Hour, time.Second)
	if p := s.PendingCommands(); len(p) != 2 || p[0].ID != keep {
		t.Fatalf("pending = %+v", p)
	}
	if !s.Cancel(drop) || s.Cancel(drop) {
		t.Fatalf("cancel semantics broken")
	}

	if got := waitForCommands(t, runner, 1); got[0] != "what time is it" {
		t.Fatalf("ran %v", got)
	}
	if p := s.PendingCommands(); len(p) != 0 {
		t.Fatalf("pending after fire = %+v", p)
	}
}

func TestParseCadence(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"@every 1s":     "@every 1s",
		"1s":            "@every 1s",
		"00:05":         "@every 5m0s",
		"*/2 * * * * *": "*/2 * * * * *",
	}
	for in, want := range cases {
		got, err := ParseCadence(in)
		if err != nil || got != want {
			t.Fatalf("ParseCadence(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "soon", "-1s"} {
		if _, err := ParseCadence(bad); err == nil {
			t.Fatalf("ParseCadence(%q) accepted", bad)
		}
	}
}

func TestTasksRunIndependently(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Config{}, logx.Nop(), nil)
	eng.Start(context.Background())
	runner := &stuckRunner{release: make(chan struct{})}
	t.Cleanup(func() {
		close(runner.release)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	})

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tasks := []bgtask.BackgroundTask{
		{Seconds: 1, Task: "hang one"},
		{Seconds: 1, Task: "hang two"},
		{Seconds: 1, Task: "hang three"},
		{Seconds: 1, Task: "hang four"},
		{Seconds: 1, Task: "broken"},
		{Seconds: 1, Task: "flip a coin"},
	}
	marks := &memMarks{m: map[string]time.Time{}}
	for _, bt := range tasks {
		marks.m[bt.Key()] = now.Add(-time.Minute)
	}
	s := New(Config{Enabled: true, TaskDeadline: 5 * time.Minute}, eng, runner,
		&staticTasks{tasks: tasks}, logx.Nop(),
		WithClock(func() time.Time { return now }), WithMarks(marks))

	if r := s.RunCycle(context.Background()); len(r.Queued) != len(tasks) {
		t.Fatalf("report = %+v", r)
	}

	start := time.Now()
	if got := waitForCommands(t, &runner.recordingRunner, 1); got[0] != "flip a coin" {
		t.Fatalf("ran %v", got)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("flip a coin waited %v behind hung tasks", took)
	}
}
