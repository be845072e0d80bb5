package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "squire/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "squire.db")
			cfg := Config{Driver: driver, Path: path, BusyTimeout: time.Second}
			exerciseStore(t, cfg)
		})
	}
}

func exerciseStore(t *testing.T, cfg Config) {
	t.Helper()
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, cmd := range []string{"what time is it", "flip a coin", "speed test"} {
		e := AuditEntry{At: base.Add(time.Duration(i) * time.Minute), Source: "http", Kind: "command", Command: cmd, OK: true, TookMS: int64(i)}
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	recent, err := st.RecentAudit(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Command != "speed test" || recent[1].Command != "flip a coin" {
		t.Fatalf("recent = %+v", recent)
	}
	if !recent[0].At.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("at = %v", recent[0].At)
	}

	mark := base.Add(90 * time.Second)
	if err := st.PutMark(ctx, "60|flip a coin", mark); err != nil {
		t.Fatalf("put mark: %v", err)
	}
	if err := st.PutMark(ctx, "5|speed test", mark); err != nil {
		t.Fatalf("put mark: %v", err)
	}
	if err := st.DeleteMark(ctx, "5|speed test"); err != nil {
		t.Fatalf("delete mark: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, ok, err := st.GetMark(ctx, "60|flip a coin")
	if err != nil || !ok || !got.Equal(mark) {
		t.Fatalf("mark after reopen = %v, %v, %v", got, ok, err)
	}
	if _, ok, _ := st.GetMark(ctx, "5|speed test"); ok {
		t.Fatalf("deleted mark came back")
	}
	if all, _ := st.RecentAudit(ctx, 10); len(all) != 3 {
		t.Fatalf("audit after reopen = %d entries", len(all))
	}
}

func TestFileJournalCompaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "squire")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fs := st.(*fileStore)
	fs.compactEvery = 3

	at := time.UnixMilli(1_700_000_000_000)
	for _, k := range []string{"a", "b", "c", "d"} {
		if err := st.PutMark(ctx, k, at); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	_ = st.DeleteMark(ctx, "a")
	_ = st.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	for k, want := range map[string]bool{"a": false, "b": true, "d": true} {
		if _, ok, _ := st.GetMark(ctx, k); ok != want {
			t.Fatalf("mark %q present = %v, want %v", k, ok, want)
		}
	}
}
