// Package telegram relays owner messages to the dispatcher over Telegram long
// polling and sends warn+ log lines to a log chat.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"squire/internal/delivery"
	"squire/internal/dispatch"
	rtsup "squire/internal/runtime/supervisor"
	logx "squire/pkg/logx"
)

type Config struct {
	Token       string
	OwnerIDs    []int64
	LogChatID   int64
	PollTimeout time.Duration
}

// Handler is the dispatcher side of the bot.
type Handler interface {
	Handle(ctx context.Context, req dispatch.Request) dispatch.Reply
}

type Bot struct {
	log  logx.Logger
	disp Handler

	mu  sync.RWMutex
	cfg Config

	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	ctx     atomic.Value // context.Context for handler calls

	ignored atomic.Uint64
}

// New creates the bot without contacting Telegram. Start begins polling.
func New(cfg Config, disp Handler, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{log: log, disp: disp, cfg: cfg, bot: tb}
	b.ctx.Store(context.Background())
	tb.Handle(tele.OnText, b.onText)
	return b, nil
}

// Apply updates the owner list and log chat. Token changes need a restart.
func (b *Bot) Apply(cfg Config) {
	b.mu.Lock()
	b.cfg.OwnerIDs = slices.Clone(cfg.OwnerIDs)
	b.cfg.LogChatID = cfg.LogChatID
	b.mu.Unlock()
}

func (b *Bot) isOwner(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Contains(b.cfg.OwnerIDs, id)
}

func (b *Bot) onText(c tele.Context) error {
	sender := c.Sender()
	if sender == nil || !b.isOwner(sender.ID) {
		if sender != nil {
			b.ignored.Add(1)
			b.log.Debug("message from non-owner ignored", logx.Int64("from_id", sender.ID))
		}
		return nil
	}
	ctx, _ := b.ctx.Load().(context.Context)
	_ = c.Notify(tele.Typing)

	start := time.Now()
	reply := b.disp.Handle(ctx, dispatch.Request{
		Text:   c.Text(),
		Source: "telegram",
		Actor:  strconv.FormatInt(sender.ID, 10),
	})
	b.log.Debug("telegram request",
		logx.Int64("from_id", sender.ID),
		logx.String("status", reply.Status.String()),
		logx.Duration("dur", time.Since(start)),
	)
	return b.send(c, reply)
}

func (b *Bot) send(c tele.Context, reply dispatch.Reply) error {
	switch reply.Status {
	case dispatch.StatusNoContent:
		return c.Send("I didn't get any text to work with.")
	}
	for _, what := range payloads(reply) {
		if err := c.Send(what); err != nil {
			b.log.Warn("telegram reply failed", logx.Err(err))
			return err
		}
	}
	return nil
}

// payloads maps a reply onto the telebot values to send, in order.
func payloads(reply dispatch.Reply) []any {
	d := reply.Delivery
	switch d.Kind {
	case delivery.KindAudio:
		return []any{&tele.Voice{File: tele.FromReader(bytes.NewReader(d.Audio)), MIME: d.ContentType}}
	case delivery.KindFile:
		return []any{&tele.Document{File: tele.FromDisk(d.Path), FileName: filepath.Base(d.Path)}}
	}
	text := d.Text
	if text == "" {
		text = reply.Text
	}
	chunks := splitText(text, textLimit)
	out := make([]any, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, ch)
	}
	return out
}

// Notify sends text to the log chat. It satisfies the log notifier sink.
func (b *Bot) Notify(ctx context.Context, text string) error {
	b.mu.RLock()
	chat := b.cfg.LogChatID
	b.mu.RUnlock()
	if chat == 0 {
		return nil
	}
	for _, ch := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.bot.Send(tele.ChatID(chat), ch); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return nil
	}
	b.running = true
	b.ctx.Store(ctx)
	b.sup = rtsup.New(ctx,
		rtsup.WithLogger(b.log.With(logx.String("comp", "telegram"))),
		rtsup.WithCancelOnError(false),
	)

	b.sup.Go0("telegram.ignored_report", func(c context.Context) {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if n := b.ignored.Swap(0); n > 0 {
					b.log.Warn("messages from non-owners ignored", logx.Int("count", int(n)))
				}
			}
		}
	})
	b.sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.bot.Stop()
	})
	// Start blocks until Stop; restart it if it returns while still running.
	b.sup.GoRestart("telegram.poll", func(c context.Context) error {
		b.log.Info("polling started")
		b.bot.Start()
		b.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	wasRunning := b.running
	b.running = false
	b.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}

	sup.Cancel()
	// getUpdates may still be waiting on its long poll.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		rs = rs[end:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}
