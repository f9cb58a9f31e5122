package config

import (
	"errors"
	"fmt"
	"strings"

	"reminderd/internal/domain"
)

// Validate checks everything that can be checked without opening resources.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	default:
		add(fmt.Errorf("storage.driver: unsupported driver %q", cfg.Storage.Driver))
	}
	_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	_, err = ParseDurationField("scheduler.start_delay", cfg.Scheduler.StartDelay)
	add(err)
	if cfg.Scheduler.BatchSize < 0 {
		add(errors.New("scheduler.batch_size: must be >= 0"))
	}
	_, err = ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	add(err)
	if cfg.Engine.Workers < 0 {
		add(errors.New("engine.workers: must be >= 0"))
	}

	_, err = ParseDurationField("delivery.timeout", cfg.Delivery.Timeout)
	add(err)
	if cfg.Delivery.RatePerSec < 0 {
		add(errors.New("delivery.rate_per_sec: must be >= 0"))
	}
	tg := cfg.Delivery.Telegram
	_, err = ParseDurationField("delivery.telegram.timeout", tg.Timeout)
	add(err)
	if tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			add(errors.New("delivery.telegram.token: required when telegram is enabled"))
		}
		if len(tg.ChatIDs) == 0 {
			add(errors.New("delivery.telegram.chat_ids: at least one chat required"))
		}
	}
	if cfg.Logging.Alert.Enabled && !tg.Enabled {
		add(errors.New("logging.alert: requires delivery.telegram.enabled"))
	}

	if cfg.Lifecycle.MaxAttempts < 0 {
		add(errors.New("lifecycle.max_attempts: must be >= 0"))
	}
	_, err = ParseDurationField("lifecycle.backoff_step", cfg.Lifecycle.BackoffStep)
	add(err)

	if q := cfg.Quiet; q.Start != "" || q.End != "" {
		if _, err := domain.ParseClock(q.Start); err != nil {
			add(fmt.Errorf("quiet_hours.start: %w", err))
		}
		if _, err := domain.ParseClock(q.End); err != nil {
			add(fmt.Errorf("quiet_hours.end: %w", err))
		}
	}
	return errors.Join(errs...)
}
