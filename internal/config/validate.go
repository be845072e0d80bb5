package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks values that strict decoding cannot: durations, timezone,
// storage driver and transport prerequisites.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("executor.grace", cfg.Executor.Grace)
	check("executor.command_deadline", cfg.Executor.CommandDeadline)
	check("background.task_deadline", cfg.Background.TaskDeadline)
	check("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	check("delivery.native.cleanup_after", cfg.Delivery.Native.CleanupAfter)
	check("secrets.token_ttl", cfg.Secrets.TokenTTL)
	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Storage != nil {
		check("storage.busy_timeout", cfg.Storage.BusyTimeout)
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
	}

	if tz := strings.TrimSpace(cfg.Background.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("background.timezone: %w", err))
		}
	}
	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		errs = append(errs, errors.New("task_engine: sizes must be >= 0"))
	}
	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required when telegram is enabled"))
	}
	if cfg.Telegram.Enabled && len(cfg.Telegram.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids: at least one owner is required"))
	}
	if cfg.Delivery.Native.Command != nil && len(cfg.Delivery.Native.Command) == 0 {
		errs = append(errs, errors.New("delivery.native.command: must not be empty when set"))
	}
	return errors.Join(errs...)
}
