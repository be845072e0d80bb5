package app

import (
	"context"
	"slices"
	"strings"

	"squire/internal/config"
	logx "squire/pkg/logx"
	"squire/pkg/systemd"
)

// startReload fans committed config changes out to the running components.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts, keep the newest
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.apply(c, last, next)
				last = next
			}
		}
	})
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	changed := config.ChangedSections(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	if r := config.RestartRequired(changed); len(r) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(r, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	a.disp.Apply(mapDispatchConfig(next))
	a.selector.Apply(mapDeliveryConfig(next))
	a.engine.Apply(ctx, mapEngineConfig(next))
	if err := a.sched.Apply(mapSchedulerConfig(next)); err != nil {
		a.log.Warn("scheduler config rejected; keeping previous", logx.Err(err))
	}
	if a.http != nil {
		a.http.Apply(mapHTTPConfig(next))
	} else if next.HTTP.Enabled {
		a.log.Warn("http enabled via config; restart required")
	}
	if a.tg != nil {
		a.tg.Apply(mapTelegramConfig(next))
	}
	if slices.Contains(changed, "title") || slices.Contains(changed, "speedtest") {
		a.log.Info("skill settings changed; new values apply to the next command")
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
}
