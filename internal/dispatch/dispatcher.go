package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"squire/internal/classify"
	"squire/internal/deadline"
	"squire/internal/delivery"
	"squire/internal/storage"
	logx "squire/pkg/logx"
)

type Dispatcher struct {
	mu  sync.RWMutex
	cfg Config

	classifier *classify.Classifier
	registry   Resolver
	exec       Executor
	log        logx.Logger

	deferrer Deferrer
	secrets  SecretHandler
	deliver  Deliverer
	audit    Auditor
	shutdown func()
}

type Option func(*Dispatcher)

func WithSecrets(s SecretHandler) Option { return func(d *Dispatcher) { d.secrets = s } }
func WithDelivery(s Deliverer) Option    { return func(d *Dispatcher) { d.deliver = s } }
func WithAudit(a Auditor) Option         { return func(d *Dispatcher) { d.audit = a } }

// WithShutdown installs the hook run after a confirmed shutdown phrase.
func WithShutdown(fn func()) Option { return func(d *Dispatcher) { d.shutdown = fn } }

func New(cfg Config, classifier *classify.Classifier, registry Resolver, exec Executor, log logx.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:        withDefaults(cfg),
		classifier: classifier,
		registry:   registry,
		exec:       exec,
		log:        log.With(logx.String("comp", "dispatch")),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func withDefaults(cfg Config) Config {
	if cfg.CommandDeadline <= 0 {
		cfg.CommandDeadline = 60 * time.Second
	}
	return cfg
}

// SetDeferrer wires delayed commands. The scheduler depends on the
// dispatcher, so this is set after both exist.
func (d *Dispatcher) SetDeferrer(df Deferrer) {
	d.mu.Lock()
	d.deferrer = df
	d.mu.Unlock()
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = withDefaults(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (Config, Deferrer) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.deferrer
}

// Handle answers one request.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Reply {
	cfg, deferrer := d.snapshot()
	res := d.classifier.Classify(req.Text)

	var reply Reply
	switch res.Kind {
	case classify.KindEmpty:
		return Reply{Status: StatusNoContent}

	case classify.KindTest:
		reply = Reply{Status: StatusOK, Text: "Test message received."}

	case classify.KindShutdown:
		reply = Reply{Status: StatusShutdown, Text: fmt.Sprintf("Shutting down now %s!", cfg.Title)}
		d.record(ctx, req, storage.AuditEntry{Kind: "shutdown", Command: res.Text, OK: true})
		d.log.Warn("shutdown requested", logx.String("source", req.Source), logx.String("actor", req.Actor))
		if d.shutdown != nil {
			d.shutdown()
		}
		reply.Delivery = delivery.Delivery{Kind: delivery.KindText, Text: reply.Text}
		return reply

	case classify.KindSecret:
		text := d.handleSecret(ctx, req, res)
		// Token replies are never spoken.
		return Reply{Status: StatusOK, Text: text, Delivery: delivery.Delivery{Kind: delivery.KindText, Text: text}}

	default:
		reply = d.handleCommand(ctx, cfg, deferrer, req, res)
	}

	if reply.Status == StatusOK && d.deliver != nil {
		reply.Delivery = d.deliver.Deliver(ctx, reply.Text, req.NativeAudio, req.SpeechTimeout)
	} else {
		reply.Delivery = delivery.Delivery{Kind: delivery.KindText, Text: reply.Text}
	}
	return reply
}

func (d *Dispatcher) handleCommand(ctx context.Context, cfg Config, deferrer Deferrer, req Request, res classify.Result) Reply {
	if res.Compound() {
		parts := make([]string, 0, len(res.Segments))
		for _, seg := range res.Segments {
			if !seg.Compatible {
				parts = append(parts, rejection("'" + seg.Text + "'"))
				continue
			}
			parts = append(parts, d.execute(ctx, cfg, req, seg.Text))
		}
		return Reply{Status: StatusOK, Text: strings.Join(parts, "\n\n")}
	}

	if !res.Compatible {
		d.log.Info("incompatible request", logx.String("command", res.Text), logx.String("source", req.Source))
		return Reply{Status: StatusRejected, Text: rejection(`"` + res.Text + `"`)}
	}

	if res.Delay != nil && deferrer != nil {
		_, err := deferrer.Defer(res.Delay.Task, res.Delay.After, cfg.CommandDeadline)
		entry := storage.AuditEntry{Kind: "deferred", Command: res.Delay.Task, OK: err == nil, Info: res.Delay.After.String()}
		if err != nil {
			entry.Error = err.Error()
			d.record(ctx, req, entry)
			d.log.Error("defer failed", logx.String("command", res.Delay.Task), logx.Err(err))
			return Reply{Status: StatusOK, Text: fmt.Sprintf("I wasn't able to schedule '%s'.", res.Delay.Task)}
		}
		d.record(ctx, req, entry)
		return Reply{
			Status: StatusDeferred,
			Text:   fmt.Sprintf("I will execute it after %s %s!", classify.HumanizeDuration(res.Delay.After), cfg.Title),
		}
	}

	return Reply{Status: StatusOK, Text: d.execute(ctx, cfg, req, res.Text)}
}

// execute resolves and runs one compatible command and phrases the outcome.
func (d *Dispatcher) execute(ctx context.Context, cfg Config, req Request, cmd string) string {
	skill, ok := d.registry.Resolve(cmd)
	if !ok {
		d.record(ctx, req, storage.AuditEntry{Kind: "command", Command: cmd, Error: ErrNoSkill.Error()})
		return fmt.Sprintf("I don't have a skill to handle '%s' yet.", cmd)
	}

	resp, err := d.exec.Run(ctx, cfg.CommandDeadline, skill.Name, cmd)
	entry := storage.AuditEntry{Kind: "command", Command: cmd, Handler: skill.Name, OK: resp.OK, Info: resp.Info, TookMS: resp.Elapsed.Milliseconds()}
	switch {
	case err != nil:
		entry.Error = err.Error()
		d.record(ctx, req, entry)
		d.log.Error("handler spawn failed", logx.String("handler", skill.Name), logx.Err(err))
		return fmt.Sprintf("I wasn't able to process '%s' right now.", cmd)
	case !resp.OK:
		d.record(ctx, req, entry)
		return fmt.Sprintf("I wasn't able to process '%s' within %s.", cmd, classify.HumanizeDuration(cfg.CommandDeadline))
	}
	if resp.Failed {
		entry.Error = resp.Output
	}
	d.record(ctx, req, entry)
	return resp.Output
}

func (d *Dispatcher) handleSecret(ctx context.Context, req Request, res classify.Result) string {
	entry := storage.AuditEntry{Kind: "secret", Command: res.Text}
	if d.secrets == nil {
		d.record(ctx, req, entry)
		return "Secret requests are not configured."
	}
	text, err := d.secrets.Handle(ctx, res.Text, res.Raw)
	if err != nil {
		entry.Error = err.Error()
		d.record(ctx, req, entry)
		return "I wasn't able to reach the secret store."
	}
	entry.OK = true
	d.record(ctx, req, entry)
	return text
}

// RunCommand runs command through the same resolve and execute path without
// classification. It is the entry point for scheduled and deferred work.
func (d *Dispatcher) RunCommand(ctx context.Context, command string, timeout time.Duration) (deadline.Response, error) {
	cmd := classify.StripPunctuation(classify.Normalize(command))
	req := Request{Source: "scheduler"}
	skill, ok := d.registry.Resolve(cmd)
	if !ok {
		d.record(ctx, req, storage.AuditEntry{Kind: "scheduled", Command: cmd, Error: ErrNoSkill.Error()})
		return deadline.Response{}, fmt.Errorf("%w: %q", ErrNoSkill, cmd)
	}
	resp, err := d.exec.Run(ctx, timeout, skill.Name, cmd)
	entry := storage.AuditEntry{Kind: "scheduled", Command: cmd, Handler: skill.Name, OK: resp.OK, Info: resp.Info, TookMS: resp.Elapsed.Milliseconds()}
	if err != nil {
		entry.Error = err.Error()
	} else if resp.Failed {
		entry.Error = resp.Output
	}
	d.record(ctx, req, entry)
	if err == nil && resp.OK {
		d.log.Info("scheduled command finished", logx.String("command", cmd), logx.String("output", resp.Output), logx.Duration("took", resp.Elapsed))
	}
	return resp, err
}

func (d *Dispatcher) record(ctx context.Context, req Request, e storage.AuditEntry) {
	if d.audit == nil {
		return
	}
	e.At = time.Now()
	e.Source = req.Source
	e.Actor = req.Actor
	if err := d.audit.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		d.log.Debug("audit append failed", logx.Err(err))
	}
}

// rejection takes the command already quoted: double quotes for a whole
// command, single quotes for a compound segment.
func rejection(quoted string) string {
	return fmt.Sprintf("%s is not a part of off-line communicator compatible request.\n\n"+
		"Please try an instruction that does not require an user interaction.", quoted)
}
