package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"squire/internal/bgtask"
	"squire/internal/eventbus"
	"squire/internal/task/engine"
	logx "squire/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	engine *engine.Service
	runner Runner
	tasks  TaskSource
	marks  MarkStore
	now    func() time.Time

	parser  cron.Parser
	c       *cron.Cron
	entryID cron.EntryID
	ctx     context.Context

	// cycleMu serializes cycles; last holds the in-memory marks.
	cycleMu sync.Mutex
	last    map[string]time.Time

	tmu     sync.Mutex
	pending map[string]*deferred
	seq     atomic.Uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Option func(*Service)

// WithMarks persists last-run marks across restarts.
func WithMarks(m MarkStore) Option { return func(s *Service) { s.marks = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithEvents(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func New(cfg Config, eng *engine.Service, runner Runner, tasks TaskSource, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		engine: eng,
		runner: runner,
		tasks:  tasks,
		now:    time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		last:        map[string]time.Time{},
		pending:     map[string]*deferred{},
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

// Start begins triggering cycles on the configured cadence. Cycles and
// deferred commands run under ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	s.loc = s.loadLocation(s.cfg.Timezone)
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	if s.cfg.Enabled {
		spec, err := ParseCadence(cadenceOrDefault(s.cfg.Cadence))
		if err != nil {
			s.c = nil
			return err
		}
		ctx := s.ctx
		id, err := s.c.AddFunc(spec, func() { s.RunCycle(ctx) })
		if err != nil {
			s.c = nil
			return fmt.Errorf("cadence %q: %w", spec, err)
		}
		s.entryID = id
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Bool("background", s.cfg.Enabled), logx.String("cadence", cadenceOrDefault(s.cfg.Cadence)), logx.String("tz", s.loc.String()))
	return nil
}

// Apply swaps the config, restarting the trigger when the cadence, timezone or
// enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.c == nil {
		s.loc = s.loadLocation(cfg.Timezone)
		return nil
	}
	if prev.Enabled == cfg.Enabled &&
		cadenceOrDefault(prev.Cadence) == cadenceOrDefault(cfg.Cadence) &&
		strings.TrimSpace(prev.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	return s.startLocked()
}

// Stop halts the trigger and cancels every pending deferred command.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for id, d := range s.pending {
		d.timer.Stop()
		delete(s.pending, id)
	}
	s.tmu.Unlock()
	s.log.Info("scheduler stopped")
}

// RunCycle loads the task file once and enqueues every due task.
//
// A task seen for the first time starts its interval now, unless a persisted
// mark exists. The mark of a due task advances even when the current hour is
// ignored, so the task waits a full interval after an ignored slot.
func (s *Service) RunCycle(ctx context.Context) CycleReport {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	loc := s.loc
	deadline := s.cfg.TaskDeadline
	s.mu.Unlock()

	now := s.now().In(loc)
	report := CycleReport{At: now}
	if s.tasks == nil {
		return report
	}
	tasks := s.tasks.Load(ctx)
	report.Loaded = len(tasks)

	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		key := t.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		last, ok := s.last[key]
		if !ok {
			last, ok = s.restoreMark(ctx, key)
			if !ok {
				s.mark(ctx, key, now)
				continue
			}
			s.last[key] = last
		}
		if now.Sub(last) < t.Every() {
			continue
		}
		s.mark(ctx, key, now)

		if t.IgnoreHours.Contains(now.Hour()) {
			report.Ignored = append(report.Ignored, t.Task)
			eventbus.Emit(s.bus, eventbus.TaskSkipped, map[string]any{"task": t.Task, "reason": "ignore_hours", "hour": now.Hour()})
			s.log.Debug("background task in ignored hour", logx.String("task", t.Task), logx.Int("hour", now.Hour()))
			continue
		}

		if err := s.enqueueTask(t, deadline); err != nil {
			report.Skipped = append(report.Skipped, t.Task)
			s.reportEnqueueError(t.Task, err)
			continue
		}
		report.Queued = append(report.Queued, t.Task)
	}

	for key := range s.last {
		if _, ok := seen[key]; ok {
			continue
		}
		delete(s.last, key)
		if s.marks != nil {
			if err := s.marks.DeleteMark(ctx, key); err != nil {
				s.log.Debug("mark delete failed", logx.String("key", key), logx.Err(err))
			}
		}
	}

	if len(report.Queued) > 0 {
		s.log.Info("background tasks queued", logx.Any("tasks", report.Queued))
	}
	return report
}

func (s *Service) enqueueTask(t bgtask.BackgroundTask, deadline time.Duration) error {
	if s.engine == nil || s.runner == nil {
		return engine.ErrStopped
	}
	command := t.Task
	return s.engine.Enqueue(engine.Task{
		Name: "bg:" + t.Key(),
		// The executor enforces the deadline itself; this is a backstop.
		Timeout:  deadline + 5*time.Second,
		Overlap:  engine.OverlapSkipIfRunning,
		Detached: true,
		Run: func(ctx context.Context) error {
			return s.run(ctx, command, deadline)
		},
	})
}

func (s *Service) run(ctx context.Context, command string, timeout time.Duration) error {
	resp, err := s.runner.RunCommand(ctx, command, timeout)
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New(resp.Info)
	}
	if resp.Failed {
		return fmt.Errorf("%s: %s", command, resp.Output)
	}
	return nil
}

func (s *Service) restoreMark(ctx context.Context, key string) (time.Time, bool) {
	if s.marks == nil {
		return time.Time{}, false
	}
	at, ok, err := s.marks.GetMark(ctx, key)
	if err != nil {
		s.log.Debug("mark restore failed", logx.String("key", key), logx.Err(err))
		return time.Time{}, false
	}
	return at, ok
}

func (s *Service) mark(ctx context.Context, key string, at time.Time) {
	s.last[key] = at
	if s.marks == nil {
		return
	}
	if err := s.marks.PutMark(ctx, key, at); err != nil {
		s.log.Debug("mark persist failed", logx.String("key", key), logx.Err(err))
	}
}

// Defer runs command once after the given delay. It returns the pending id.
func (s *Service) Defer(command string, after, timeout time.Duration) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", errors.New("command required")
	}
	if after < 0 {
		after = 0
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return "", errors.New("scheduler not started")
	}

	id := fmt.Sprintf("defer-%d", s.seq.Add(1))
	d := &deferred{Pending: Pending{ID: id, Command: command, At: s.now().Add(after), Timeout: timeout}}

	s.tmu.Lock()
	d.timer = time.AfterFunc(after, func() { s.fire(ctx, id) })
	s.pending[id] = d
	s.tmu.Unlock()

	eventbus.Emit(s.bus, eventbus.CommandDeferred, d.Pending)
	s.log.Info("command deferred", logx.String("id", id), logx.String("command", command), logx.Duration("after", after))
	return id, nil
}

func (s *Service) fire(ctx context.Context, id string) {
	s.tmu.Lock()
	d, ok := s.pending[id]
	delete(s.pending, id)
	s.tmu.Unlock()
	if !ok || s.engine == nil || s.runner == nil {
		return
	}
	command, timeout := d.Command, d.Timeout
	err := s.engine.Enqueue(engine.Task{
		ID:       id,
		Name:     "deferred:" + id,
		Timeout:  timeout + 5*time.Second,
		Detached: true,
		Run: func(ctx context.Context) error {
			return s.run(ctx, command, timeout)
		},
	})
	if err != nil {
		s.reportEnqueueError(command, err)
	}
}

// Cancel drops a pending deferred command.
func (s *Service) Cancel(id string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.pending[id]
	if !ok {
		return false
	}
	d.timer.Stop()
	delete(s.pending, id)
	return true
}

// PendingCommands lists deferred commands ordered by due time.
func (s *Service) PendingCommands() []Pending {
	s.tmu.Lock()
	out := make([]Pending, 0, len(s.pending))
	for _, d := range s.pending {
		out = append(out, d.Pending)
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Cadence:  cadenceOrDefault(s.cfg.Cadence),
		Timezone: s.loc.String(),
	}
	if s.c != nil && s.entryID != 0 {
		e := s.c.Entry(s.entryID)
		snap.Next, snap.Prev = e.Next, e.Prev
	}
	eng := s.engine
	s.mu.Unlock()

	s.cycleMu.Lock()
	snap.Tracked = len(s.last)
	s.cycleMu.Unlock()
	snap.Pending = s.PendingCommands()
	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}

func (s *Service) reportEnqueueError(name string, err error) {
	// Overlap skips are routine for long tasks on short intervals.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("background task still running; skipped", logx.String("task", name))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("failed to enqueue task", logx.String("task", name), logx.Err(err))
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func cadenceOrDefault(c string) string {
	if strings.TrimSpace(c) == "" {
		return "@every 1s"
	}
	return c
}

// cronLogger routes robfig/cron's logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
