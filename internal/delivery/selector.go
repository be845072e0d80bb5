// Package delivery picks how a reply reaches the user: a file, synthesized
// speech, local speech output or plain text.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "squire/pkg/logx"
)

type Kind int

const (
	KindText Kind = iota
	KindAudio
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindFile:
		return "file"
	default:
		return "text"
	}
}

// Delivery is the chosen channel and its payload.
// Ephemeral files are removed by the selector after the cleanup delay.
type Delivery struct {
	Kind        Kind
	Text        string
	Audio       []byte
	ContentType string
	Path        string
	Ephemeral   bool
}

type Config struct {
	SpeechURL     string
	Voice         string
	Vocoder       string
	NativeCommand []string // may contain {text} and {file}
	NativeDir     string
	CleanupAfter  time.Duration
}

const (
	maxAudioBytes   = 32 << 20
	nativeTimeout   = 30 * time.Second
	defaultAudioDir = "./fileio/audio"
)

type Selector struct {
	mu     sync.RWMutex
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func NewSelector(cfg Config, log logx.Logger) *Selector {
	return &Selector{cfg: cfg, client: &http.Client{}, log: log}
}

func (s *Selector) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Selector) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Deliver picks the channel for text, in order: an existing file named by
// text, the speech server (when speechTimeout > 0), the native voice (when
// nativeAudio is set), and finally text.
func (s *Selector) Deliver(ctx context.Context, text string, nativeAudio bool, speechTimeout time.Duration) Delivery {
	cfg := s.config()

	if path, ok := existingFile(text); ok {
		return Delivery{Kind: KindFile, Path: path}
	}
	if speechTimeout > 0 && cfg.SpeechURL != "" {
		audio, ctype, err := s.synthesize(ctx, cfg, text, speechTimeout)
		if err == nil {
			return Delivery{Kind: KindAudio, Audio: audio, ContentType: ctype, Text: text}
		}
		s.log.Warn("speech synthesis failed; falling back", logx.Err(err), logx.Duration("timeout", speechTimeout))
	}
	if nativeAudio && len(cfg.NativeCommand) > 0 {
		path, err := s.speakNative(ctx, cfg, text)
		if err == nil {
			return Delivery{Kind: KindFile, Path: path, Ephemeral: true, Text: text}
		}
		s.log.Warn("native speech failed; falling back", logx.Err(err))
	}
	return Delivery{Kind: KindText, Text: text}
}

func existingFile(text string) (string, bool) {
	p := strings.TrimSpace(text)
	if p == "" || len(p) > 4096 || strings.ContainsAny(p, "\n\x00") {
		return "", false
	}
	fi, err := os.Stat(p)
	if err != nil || !fi.Mode().IsRegular() {
		return "", false
	}
	return p, true
}

func (s *Selector) synthesize(ctx context.Context, cfg Config, text string, timeout time.Duration) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(strings.TrimRight(cfg.SpeechURL, "/") + "/api/tts")
	if err != nil {
		return nil, "", err
	}
	q := u.Query()
	if cfg.Voice != "" {
		q.Set("voice", cfg.Voice)
	}
	if cfg.Vocoder != "" {
		q.Set("vocoder", cfg.Vocoder)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(text))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("speech server status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("speech server returned no audio")
	}
	ctype := resp.Header.Get("Content-Type")
	if ctype == "" || strings.HasPrefix(ctype, "text/") {
		ctype = "audio/wav"
	}
	return body, ctype, nil
}

func (s *Selector) speakNative(ctx context.Context, cfg Config, text string) (string, error) {
	dir := cfg.NativeDir
	if dir == "" {
		dir = defaultAudioDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uuid.NewString()+".wav")

	args := make([]string, len(cfg.NativeCommand))
	for i, a := range cfg.NativeCommand {
		a = strings.ReplaceAll(a, "{text}", text)
		args[i] = strings.ReplaceAll(a, "{file}", path)
	}

	ctx, cancel := context.WithTimeout(ctx, nativeTimeout)
	defer cancel()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("%s produced no audio", args[0])
	}

	after := cfg.CleanupAfter
	if after <= 0 {
		after = 2 * time.Second
	}
	time.AfterFunc(after, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("audio cleanup failed", logx.String("path", path), logx.Err(err))
		}
	})
	return path, nil
}
