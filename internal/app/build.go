package app

import (
	"strings"
	"time"

	"squire/internal/bgtask"
	"squire/internal/config"
	"squire/internal/delivery"
	"squire/internal/dispatch"
	"squire/internal/skills"
	"squire/internal/storage"
	"squire/internal/task/engine"
	"squire/internal/task/scheduler"
	"squire/internal/transport/httpapi"
	"squire/internal/transport/telegram"
	logx "squire/pkg/logx"
)

// Version is stamped at build time with -ldflags "-X squire/internal/app.Version=...".
var Version = "dev"

// ConfigEnv names the variable that carries the config path into executor
// children.
const ConfigEnv = "SQUIRE_CONFIG"

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Notify: logx.NotifyConfig{
			Enabled:    l.Notify.Enabled && cfg.Telegram.Enabled,
			MinLevel:   l.Notify.MinLevel,
			RatePerSec: l.Notify.RatePerSec,
		},
	}
}

// mapStorageConfig returns ok=false when storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none", "off", "disabled":
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./fileio/squire"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 2*time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		HistorySize:    te.HistorySize,
		DefaultTimeout: te.DefaultTimeoutDuration(),
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	b := cfg.Background
	return scheduler.Config{
		Enabled:      b.Enabled,
		Cadence:      b.CadenceSpec(),
		Timezone:     b.Timezone,
		TaskDeadline: b.TaskDeadlineDuration(),
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Title:           cfg.Title,
		CommandDeadline: cfg.Executor.CommandDeadlineDuration(),
	}
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	d := cfg.Delivery
	return delivery.Config{
		SpeechURL:     d.Speech.URL,
		Voice:         d.Speech.Voice,
		Vocoder:       d.Speech.Vocoder,
		NativeCommand: d.Native.Command,
		NativeDir:     d.Native.Dir,
		CleanupAfter:  d.Native.CleanupDuration(),
	}
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	return httpapi.Config{
		Addr:       cfg.HTTP.Addr,
		Token:      cfg.HTTP.Token,
		RatePerSec: cfg.HTTP.RatePerSec,
		Pprof:      cfg.HTTP.Pprof,
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	t := cfg.Telegram
	return telegram.Config{
		Token:       t.Token,
		OwnerIDs:    t.OwnerUserIDs,
		LogChatID:   t.LogChatID,
		PollTimeout: t.PollTimeoutDuration(),
	}
}

func location(cfg *config.Config) *time.Location {
	if tz := strings.TrimSpace(cfg.Background.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

// NewTaskStore opens the background task file named by cfg.
func NewTaskStore(cfg *config.Config, log logx.Logger, opts ...bgtask.Option) *bgtask.Store {
	return bgtask.NewStore(cfg.Background.TaskFile(), skills.Compatibility(),
		log.With(logx.String("comp", "bgtask")), opts...)
}

// BuildRegistry assembles the built-in skills. The parent uses it to resolve
// commands and executor children use it to run them, so both sides must
// build it from the same config.
func BuildRegistry(cfg *config.Config, tasks skills.TaskToggler) *skills.Registry {
	return skills.Builtin(skills.Deps{
		Title:    cfg.Title,
		Version:  Version,
		Location: location(cfg),
		Tasks:    tasks,
		Speed: skills.NewSpeedTester(skills.SpeedConfig{
			ServerCount:    cfg.Speedtest.ServerCount,
			MaxConnections: cfg.Speedtest.MaxConnections,
		}),
	})
}
