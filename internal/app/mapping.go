package app

import (
	"fmt"
	"strings"
	"time"

	"reminderd/internal/config"
	"reminderd/internal/domain"
	"reminderd/internal/notifier"
	"reminderd/internal/observability/debughttp"
	"reminderd/internal/reminders"
	"reminderd/internal/schedule"
	"reminderd/internal/storage"
	"reminderd/internal/task/engine"
	"reminderd/internal/task/scheduler"
	"reminderd/internal/transport/telegram"
	logx "reminderd/pkg/logx"
)

// Settings is the runtime view of a config file: every component config
// resolved and parsed.
type Settings struct {
	Logging   logx.Config
	Storage   storage.Config
	Engine    engine.Config
	Scheduler scheduler.Config
	Notifier  notifier.Config
	Reminders reminders.Config

	TelegramEnabled bool
	Telegram        telegram.Config

	Debug debughttp.Config
}

// MapConfig resolves cfg into component configs. Any parse error is returned
// as is, so it can also serve as reload validation.
func MapConfig(cfg *config.Config) (Settings, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	var (
		s   Settings
		err error
	)
	s.Logging = mapLogging(cfg)
	if s.Storage, err = mapStorage(cfg); err != nil {
		return Settings{}, err
	}
	if s.Engine, err = mapEngine(cfg); err != nil {
		return Settings{}, err
	}
	if s.Scheduler, err = mapScheduler(cfg); err != nil {
		return Settings{}, err
	}
	if err := s.Scheduler.Validate(); err != nil {
		return Settings{}, fmt.Errorf("scheduler: %w", err)
	}
	if err := checkTimeouts(s.Engine, s.Scheduler); err != nil {
		return Settings{}, err
	}
	s.Notifier = mapNotifier(cfg)
	if s.Reminders, err = mapReminders(cfg); err != nil {
		return Settings{}, err
	}
	s.TelegramEnabled = cfg.Delivery.Telegram.Enabled
	if s.Telegram, err = mapTelegram(cfg); err != nil {
		return Settings{}, err
	}
	s.Debug = debughttp.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          strings.TrimSpace(cfg.Debug.Addr),
		Token:         strings.TrimSpace(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
	if err := s.Debug.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if (driver == "sqlite" || driver == "sqlite3") && path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapEngine(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        cfg.Engine.Workers,
		DefaultTimeout: timeout,
		HistorySize:    cfg.Engine.HistorySize,
	}, nil
}

// checkTimeouts makes sure a delivery job can outlive its delivery call.
func checkTimeouts(e engine.Config, sc scheduler.Config) error {
	delivery := sc.DeliveryTimeout
	if delivery <= 0 {
		delivery = scheduler.DefaultDeliveryTimeout
	}
	if e.DefaultTimeout > 0 && e.DefaultTimeout <= delivery {
		return fmt.Errorf("engine.default_timeout (%s) must be longer than delivery.timeout (%s)", e.DefaultTimeout, delivery)
	}
	return nil
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	startDelay, err := config.ParseDurationField("scheduler.start_delay", cfg.Scheduler.StartDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, scheduler.DefaultDeliveryTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	step, err := config.ParseDurationField("lifecycle.backoff_step", cfg.Lifecycle.BackoffStep)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:          cfg.SchedulerEnabled(),
		Spec:             strings.TrimSpace(cfg.Scheduler.Poll),
		Timezone:         strings.TrimSpace(cfg.Scheduler.Timezone),
		BatchSize:        cfg.Scheduler.BatchSize,
		DeliveryTimeout:  timeout,
		DeliveryDisabled: !cfg.DeliveryEnabled(),
		BackoffStep:      step,
		StartDelay:       startDelay,
	}, nil
}

func mapNotifier(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec:      cfg.Delivery.RatePerSec,
		DefaultChannels: cfg.Delivery.DefaultChannels,
		HistorySize:     cfg.Delivery.HistorySize,
	}
}

func mapReminders(cfg *config.Config) (reminders.Config, error) {
	out := reminders.Config{
		MaxAttempts: cfg.Lifecycle.MaxAttempts,
		MaxCatchUp:  cfg.Lifecycle.MaxCatchUp,
	}
	q := cfg.Quiet
	if strings.TrimSpace(q.Start) == "" && strings.TrimSpace(q.End) == "" {
		return out, nil
	}
	start, err := domain.ParseClock(q.Start)
	if err != nil {
		return reminders.Config{}, fmt.Errorf("quiet_hours.start: %w", err)
	}
	end, err := domain.ParseClock(q.End)
	if err != nil {
		return reminders.Config{}, fmt.Errorf("quiet_hours.end: %w", err)
	}
	out.Quiet = schedule.QuietWindow{Start: start, End: end}
	return out, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Delivery.Telegram
	timeout, err := config.ParseDurationField("delivery.telegram.timeout", tc.Timeout)
	if err != nil {
		return telegram.Config{}, err
	}
	out := telegram.Config{Token: strings.TrimSpace(tc.Token), Timeout: timeout}
	for _, id := range tc.ChatIDs {
		out.Targets = append(out.Targets, telegram.Target{ChatID: id, ThreadID: tc.ThreadID})
	}
	for _, id := range tc.AlertChatIDs {
		out.AlertTargets = append(out.AlertTargets, telegram.Target{ChatID: id, ThreadID: tc.ThreadID})
	}
	return out, nil
}
