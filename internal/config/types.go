package config

// Config is the daemon configuration file (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "5m"). Times of day are
// "HH:MM".
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Lifecycle LifecycleConfig `json:"lifecycle,omitempty"`
	Quiet     QuietConfig     `json:"quiet_hours,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards warn+ records to the Telegram alert chats.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reminderd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the delivery poll loop.
//
// Enabled is a pointer so an omitted key means enabled.
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Poll is a duration ("60s"), HH:MM interval or cron expression.
	Poll       string `json:"poll,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	StartDelay string `json:"start_delay,omitempty"`
}

// EngineConfig bounds concurrent delivery attempts within one tick.
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// DeliveryConfig configures the delivery collaborator.
//
// Enabled=false keeps the loop running but cancels due tasks with a note.
type DeliveryConfig struct {
	Enabled         *bool          `json:"enabled,omitempty"`
	Timeout         string         `json:"timeout,omitempty"`
	RatePerSec      int            `json:"rate_per_sec,omitempty"`
	DefaultChannels []string       `json:"default_channels,omitempty"`
	HistorySize     int            `json:"history_size,omitempty"`
	Telegram        TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Enabled bool    `json:"enabled"`
	Token   string  `json:"token,omitempty"`
	ChatIDs []int64 `json:"chat_ids,omitempty"`
	// ThreadID targets a forum topic in every chat.
	ThreadID     int     `json:"thread_id,omitempty"`
	AlertChatIDs []int64 `json:"alert_chat_ids,omitempty"`
	Timeout      string  `json:"timeout,omitempty"`
}

// LifecycleConfig controls delivery task retries and recurrence catch-up.
type LifecycleConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BackoffStep string `json:"backoff_step,omitempty"`
	MaxCatchUp  int    `json:"max_catch_up,omitempty"`
}

// QuietConfig is the wrap-around quiet window. Both empty means 22:00-07:00.
type QuietConfig struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// DebugConfig is the optional operator HTTP server (/healthz, /status,
// /debug/pprof/). It binds to 127.0.0.1:6060 by default.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// SchedulerEnabled reports the effective loop flag.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

// DeliveryEnabled reports the effective delivery flag.
func (c *Config) DeliveryEnabled() bool {
	return c.Delivery.Enabled == nil || *c.Delivery.Enabled
}
