package bgtask

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v3"

	"squire/internal/eventbus"
	logx "squire/pkg/logx"
)

var (
	// ErrBothPresent means the active and dormant files exist at the same time.
	ErrBothPresent = errors.New("bgtask: active and dormant task files both exist")
	ErrDisabled    = errors.New("bgtask: background tasks are disabled")
	ErrMalformed   = errors.New("bgtask: task file is malformed")
)

// Compat decides whether a task command can run without user interaction.
type Compat interface {
	Compatible(text string) bool
}

var knownKeys = map[string]struct{}{"seconds": {}, "task": {}, "ignore_hours": {}}

// Store reads and rewrites the task file. All file access is serialized by an
// in-process mutex plus an advisory lock on <path>.lock.
type Store struct {
	mu       sync.Mutex
	path     string
	dormant  string
	compat   Compat
	validate *validator.Validate
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
}

type Option func(*Store)

func WithEvents(bus eventbus.Bus) Option { return func(s *Store) { s.bus = bus } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore returns a store for path. The dormant copy lives next to it as
// tmp_<name>.
func NewStore(path string, compat Compat, log logx.Logger, opts ...Option) *Store {
	s := &Store{
		path:     path,
		dormant:  filepath.Join(filepath.Dir(path), "tmp_"+filepath.Base(path)),
		compat:   compat,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Path() string        { return s.path }
func (s *Store) DormantPath() string { return s.dormant }

func (s *Store) State() State {
	switch {
	case isFile(s.path):
		return StateActive
	case isFile(s.dormant):
		return StateDormant
	default:
		return StateMissing
	}
}

// Load returns every valid task in file order. Invalid records are logged and
// removed from the file; an unparsable file is renamed aside. A missing or
// empty file yields no tasks.
func (s *Store) Load(ctx context.Context) []BackgroundTask {
	if ctx.Err() != nil {
		return nil
	}
	var tasks []BackgroundTask
	err := s.withLock(func() error {
		items, err := s.readLocked()
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case errors.Is(err, ErrMalformed):
			return s.quarantineFileLocked(err)
		case err != nil:
			return err
		}

		keep := make([]any, 0, len(items))
		for i, item := range items {
			t, err := s.check(item)
			if err != nil {
				s.log.Warn("background task quarantined",
					logx.Int("index", i), logx.Any("record", item), logx.Err(err))
				eventbus.Emit(s.bus, eventbus.TaskQuarantined, map[string]any{
					"index": i, "error": err.Error(),
				})
				continue
			}
			tasks = append(tasks, t)
			keep = append(keep, item)
		}
		if len(keep) != len(items) {
			return s.writeLocked(keep)
		}
		return nil
	})
	if err != nil {
		s.log.Error("background tasks load failed", logx.String("path", s.path), logx.Err(err))
	}
	return tasks
}

// Quarantine removes every record equal to raw from the task file.
func (s *Store) Quarantine(raw map[string]any) error {
	return s.withLock(func() error {
		items, err := s.readLocked()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		keep := items[:0:0]
		for _, item := range items {
			if m, ok := asStringMap(item); ok && reflect.DeepEqual(m, raw) {
				continue
			}
			keep = append(keep, item)
		}
		if len(keep) == len(items) {
			return nil
		}
		s.log.Warn("background task removed", logx.Any("record", raw))
		eventbus.Emit(s.bus, eventbus.TaskQuarantined, raw)
		return s.writeLocked(keep)
	})
}

// Add validates t and appends it to the active file, creating it when absent.
func (s *Store) Add(t BackgroundTask) error {
	t.Task = strings.TrimSpace(t.Task)
	if _, err := s.check(t.record()); err != nil {
		return err
	}
	return s.withLock(func() error {
		if !isFile(s.path) && isFile(s.dormant) {
			return ErrDisabled
		}
		items, err := s.readLocked()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return s.writeLocked(append(items, t.record()))
	})
}

// Enable moves the dormant file back into place.
func (s *Store) Enable() (Toggle, error) {
	return s.toggle(s.dormant, s.path, ToggleEnabled, ToggleAlreadyEnabled)
}

// Disable renames the active file to its dormant name.
func (s *Store) Disable() (Toggle, error) {
	return s.toggle(s.path, s.dormant, ToggleDisabled, ToggleAlreadyDisabled)
}

func (s *Store) toggle(from, to string, done, already Toggle) (Toggle, error) {
	res := ToggleMissing
	err := s.withLock(func() error {
		fromOK, toOK := isFile(from), isFile(to)
		switch {
		case fromOK && toOK:
			return fmt.Errorf("%w: %s, %s", ErrBothPresent, from, to)
		case fromOK:
			if err := os.Rename(from, to); err != nil {
				return err
			}
			res = done
		case toOK:
			res = already
		}
		return nil
	})
	if err != nil {
		return ToggleMissing, err
	}
	s.log.Info("background tasks toggled", logx.String("result", res.String()))
	return res, nil
}

func (s *Store) check(item any) (BackgroundTask, error) {
	m, ok := asStringMap(item)
	if !ok {
		return BackgroundTask{}, fmt.Errorf("record is %T, not a mapping", item)
	}
	for k := range m {
		if _, ok := knownKeys[k]; !ok {
			return BackgroundTask{}, fmt.Errorf("unknown field %q", k)
		}
	}

	var t BackgroundTask
	if v, ok := m["seconds"]; ok {
		n, err := toInt(v)
		if err != nil {
			return BackgroundTask{}, fmt.Errorf("seconds: %w", err)
		}
		t.Seconds = n
	}
	if v, ok := m["task"]; ok {
		str, ok := v.(string)
		if !ok {
			return BackgroundTask{}, fmt.Errorf("task: %v (%T) is not text", v, v)
		}
		t.Task = strings.TrimSpace(str)
	}
	hours, err := ParseIgnoreHours(m["ignore_hours"])
	if err != nil {
		return BackgroundTask{}, err
	}
	t.IgnoreHours = hours

	if err := s.validate.Struct(t); err != nil {
		return BackgroundTask{}, err
	}
	if s.compat != nil && !s.compat.Compatible(t.Task) {
		return BackgroundTask{}, fmt.Errorf("%q needs user interaction", t.Task)
	}
	return t, nil
}

func (s *Store) readLocked() ([]any, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return nil, nil
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, not a list", ErrMalformed, doc)
	}
	return items, nil
}

func (s *Store) quarantineFileLocked(cause error) error {
	dst := fmt.Sprintf("%s.%s.corrupt", s.path, s.now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(s.path, dst); err != nil {
		return err
	}
	s.log.Error("background task file quarantined",
		logx.String("path", s.path), logx.String("moved_to", dst), logx.Err(cause))
	eventbus.Emit(s.bus, eventbus.TaskQuarantined, map[string]any{"file": dst, "error": cause.Error()})
	return nil
}

// writeLocked replaces the file atomically: temp file, fsync, rename.
func (s *Store) writeLocked(items []any) error {
	if items == nil {
		items = []any{}
	}
	b, err := yaml.Marshal(items)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	ok = true
	return nil
}

func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer unlock()
	return fn()
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
