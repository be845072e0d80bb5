package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"squire/internal/config"
	"squire/internal/dispatch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "squire.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		cfg    *config.StorageConfig
		ok     bool
		driver string
		busy   time.Duration
		errs   bool
	}{
		{"absent", nil, false, "", 0, false},
		{"none", &config.StorageConfig{Driver: "none"}, false, "", 0, false},
		{"file default path", &config.StorageConfig{Driver: "File"}, true, "file", 2 * time.Second, false},
		{"sqlite busy", &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "5s"}, true, "sqlite", 5 * time.Second, false},
		{"bad busy", &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, false, "", 0, true},
	}
	for _, tc := range cases {
		sc, ok, err := mapStorageConfig(&config.Config{Storage: tc.cfg})
		if (err != nil) != tc.errs {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
		if ok != tc.ok || sc.Driver != tc.driver || sc.BusyTimeout != tc.busy {
			t.Fatalf("%s: got %+v ok=%v", tc.name, sc, ok)
		}
		if ok && sc.Path == "" {
			t.Fatalf("%s: empty path", tc.name)
		}
	}
}

func TestMapLogConfigNeedsTelegramForNotify(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Logging.Notify.Enabled = true
	if mapLogConfig(cfg).Notify.Enabled {
		t.Fatalf("notify sink enabled without telegram")
	}
	cfg.Telegram.Enabled = true
	if !mapLogConfig(cfg).Notify.Enabled {
		t.Fatalf("notify sink should follow telegram")
	}
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
title: boss
logging:
  level: error
background:
  enabled: true
  path: `+filepath.Join(dir, "background_tasks.yaml")+`
  cadence: "@every 1h"
http:
  enabled: false
storage:
  driver: file
  path: `+filepath.Join(dir, "store")+`
`)

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Store() == nil {
		t.Fatalf("storage should be open")
	}
	if got := a.Tasks().Path(); got != filepath.Join(dir, "background_tasks.yaml") {
		t.Fatalf("task path = %q", got)
	}
	if names := a.registry.Names(); len(names) == 0 {
		t.Fatalf("empty registry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply := a.Dispatcher().Handle(ctx, dispatch.Request{Text: "test", Source: "test"})
	if reply.Status != dispatch.StatusOK || reply.Text != "Test message received." {
		t.Fatalf("reply = %+v", reply)
	}
	reply = a.Dispatcher().Handle(ctx, dispatch.Request{Text: "   ", Source: "test"})
	if reply.Status != dispatch.StatusNoContent {
		t.Fatalf("empty reply = %+v", reply)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestShutdownPhraseStopsApp(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
title: boss
logging:
  level: error
background:
  enabled: false
  path: `+filepath.Join(dir, "background_tasks.yaml")+`
http:
  enabled: false
`)
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply := a.Dispatcher().Handle(ctx, dispatch.Request{Text: "kill override", Source: "test"})
	if reply.Status != dispatch.StatusShutdown {
		t.Fatalf("status = %v", reply.Status)
	}
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("app did not stop itself")
	}
	if a.Reason() != StopCommand {
		t.Fatalf("reason = %q", a.Reason())
	}
	_ = a.Stop(context.Background(), StopAppStop)
}
