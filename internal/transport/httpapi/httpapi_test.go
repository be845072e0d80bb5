package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"squire/internal/delivery"
	"squire/internal/dispatch"
	"squire/internal/secrets"
	logx "squire/pkg/logx"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	reqs  []dispatch.Request
	reply dispatch.Reply
}

func (f *fakeDispatcher) Handle(_ context.Context, req dispatch.Request) dispatch.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var d detailResp
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return d.Detail
}

func TestOfflineCommunicatorStatuses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(file, []byte("report body"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name     string
		reply    dispatch.Reply
		status   int
		wantBody string
		wantType string
	}{
		{"no content", dispatch.Reply{Status: dispatch.StatusNoContent}, http.StatusNoContent, "", ""},
		{"rejected", dispatch.Reply{Status: dispatch.StatusRejected, Text: "nope"}, http.StatusUnprocessableEntity, `"detail":"nope"`, "application/json"},
		{"text", dispatch.Reply{Text: "It is 5 PM", Delivery: delivery.Delivery{Kind: delivery.KindText, Text: "It is 5 PM"}}, http.StatusOK, `"detail":"It is 5 PM"`, "application/json"},
		{"audio", dispatch.Reply{Text: "hi", Delivery: delivery.Delivery{Kind: delivery.KindAudio, Audio: []byte("RIFF"), ContentType: "audio/wav"}}, http.StatusOK, "RIFF", "audio/wav"},
		{"file", dispatch.Reply{Text: file, Delivery: delivery.Delivery{Kind: delivery.KindFile, Path: file}}, http.StatusOK, "report body", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fd := &fakeDispatcher{reply: tc.reply}
			s := New(Config{RatePerSec: 100}, fd, nil, logx.Nop())

			rec := do(t, s.Router(), http.MethodPost, "/offline-communicator",
				`{"command":"what time is it","native_audio":true,"speech_timeout":2.5}`, nil)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			if tc.wantBody != "" && !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.wantBody)
			}
			if tc.wantType != "" && rec.Header().Get("Content-Type") != tc.wantType {
				t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
			}
			if len(fd.reqs) != 1 {
				t.Fatalf("dispatched %d requests", len(fd.reqs))
			}
			got := fd.reqs[0]
			if got.Text != "what time is it" || !got.NativeAudio || got.SpeechTimeout != 2500*time.Millisecond || got.Source != "http" {
				t.Fatalf("request = %+v", got)
			}
		})
	}
}

func TestOfflineCommunicatorBadBody(t *testing.T) {
	t.Parallel()

	s := New(Config{RatePerSec: 100}, &fakeDispatcher{}, nil, logx.Nop())
	if rec := do(t, s.Router(), http.MethodPost, "/offline-communicator", "{", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := do(t, s.Router(), http.MethodPost, "/offline-communicator", `{"command":"x","speech_timeout":-1}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative timeout status = %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	fd := &fakeDispatcher{reply: dispatch.Reply{Text: "ok"}}
	s := New(Config{Token: "s3cret", RatePerSec: 100}, fd, nil, logx.Nop())

	body := `{"command":"test"}`
	if rec := do(t, s.Router(), http.MethodPost, "/offline-communicator", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}
	if rec := do(t, s.Router(), http.MethodPost, "/offline-communicator", body, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	if rec := do(t, s.Router(), http.MethodPost, "/offline-communicator", body, map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("good token status = %d", rec.Code)
	}
	if rec := do(t, s.Router(), http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should not need a token, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	s := New(Config{RatePerSec: 1}, &fakeDispatcher{reply: dispatch.Reply{Text: "ok"}}, nil, logx.Nop())
	limited := false
	for range 10 {
		rec := do(t, s.Router(), http.MethodPost, "/offline-communicator", `{"command":"test"}`, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("expected a 429 within 10 rapid requests")
	}
}

func TestSecureSend(t *testing.T) {
	t.Parallel()

	vault := secrets.NewVault(time.Minute)
	tok := vault.Put("EXAMPLE_API_KEY", "abc123")
	s := New(Config{RatePerSec: 100}, &fakeDispatcher{}, vault, logx.Nop())

	rec := do(t, s.Router(), http.MethodGet, "/secure-send", "", map[string]string{"Access-Token": tok.ID})
	if rec.Code != http.StatusOK || detail(t, rec) != "abc123" {
		t.Fatalf("redeem = %d %q", rec.Code, rec.Body.String())
	}
	rec = do(t, s.Router(), http.MethodGet, "/secure-send", "", map[string]string{"Access-Token": tok.ID})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("second redeem = %d", rec.Code)
	}
	rec = do(t, s.Router(), http.MethodGet, "/secure-send", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header = %d", rec.Code)
	}

	short := secrets.NewVault(time.Millisecond)
	old := short.Put("K", "v")
	time.Sleep(5 * time.Millisecond)
	s2 := New(Config{RatePerSec: 100}, &fakeDispatcher{}, short, logx.Nop())
	rec = do(t, s2.Router(), http.MethodGet, "/secure-send", "", map[string]string{"Access-Token": old.ID})
	if rec.Code != http.StatusGone {
		t.Fatalf("expired token = %d", rec.Code)
	}
}

func TestServeShutsDownWithContext(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:0", RatePerSec: 100}, &fakeDispatcher{}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestPprofMount(t *testing.T) {
	t.Parallel()

	off := New(Config{RatePerSec: 100}, &fakeDispatcher{}, nil, logx.Nop())
	if rec := do(t, off.Router(), http.MethodGet, "/debug/pprof/", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof off = %d", rec.Code)
	}
	on := New(Config{RatePerSec: 100, Token: "t", Pprof: true}, &fakeDispatcher{}, nil, logx.Nop())
	if rec := do(t, on.Router(), http.MethodGet, "/debug/pprof/", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("pprof without token = %d", rec.Code)
	}
	if rec := do(t, on.Router(), http.MethodGet, "/debug/pprof/", "", map[string]string{"Authorization": "Bearer t"}); rec.Code != http.StatusOK {
		t.Fatalf("pprof with token = %d", rec.Code)
	}
}
