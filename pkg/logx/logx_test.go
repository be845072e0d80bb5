package logx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatLine(t *testing.T) {
	t.Parallel()

	got := formatLine([]byte(`{"level":"warn","time":"x","message":"reap slow","pid":42,"caller":"a.go:1"}` + "\n"))
	want := "[WARN] reap slow\n- caller=a.go:1\n- pid=42"
	if got != want {
		t.Fatalf("formatLine = %q, want %q", got, want)
	}

	if got := formatLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-json line = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("component", "test"))
	log.Debug("hello", Int("n", 3))

	out := buf.String()
	for _, want := range []string{"hello", "component=", "n="} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if Nop().Enabled(LevelError) {
		t.Fatalf("nop logger should not be enabled")
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestServiceFileAndNotifySinks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "squire.log")

	svc, log := New(Config{
		Level:  "info",
		File:   FileConfig{Enabled: true, Path: path, MaxSizeMB: 1},
		Notify: NotifyConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	})
	n := &recordingNotifier{}
	svc.SetNotifier(n)

	log.Info("quiet")
	log.Warn("loud", String("task", "speed test"))

	deadline := time.Now().Add(2 * time.Second)
	for n.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := n.count(); got != 1 {
		t.Fatalf("notified %d lines, want 1", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"quiet"`) || !strings.Contains(string(data), `"task":"speed test"`) {
		t.Fatalf("unexpected file content: %s", data)
	}
}
