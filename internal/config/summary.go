package config

import (
	"slices"
	"strings"

	logx "reminderd/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert", newCfg.Logging.Alert.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	was, is := oldCfg.Scheduler, newCfg.Scheduler
	if oldCfg.SchedulerEnabled() != newCfg.SchedulerEnabled() ||
		strings.TrimSpace(was.Poll) != strings.TrimSpace(is.Poll) ||
		strings.TrimSpace(was.Timezone) != strings.TrimSpace(is.Timezone) ||
		was.BatchSize != is.BatchSize || was.StartDelay != is.StartDelay {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.Bool("scheduler.enabled", newCfg.SchedulerEnabled()),
			logx.String("scheduler.poll", is.Poll),
			logx.String("scheduler.timezone", is.Timezone),
		)
	}
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		fields = append(fields, logx.Int("engine.workers", newCfg.Engine.Workers))
	}

	od, nd := oldCfg.Delivery, newCfg.Delivery
	if oldCfg.DeliveryEnabled() != newCfg.DeliveryEnabled() ||
		od.Timeout != nd.Timeout || od.RatePerSec != nd.RatePerSec || od.HistorySize != nd.HistorySize ||
		!slices.Equal(od.DefaultChannels, nd.DefaultChannels) {
		changed = append(changed, "delivery")
		fields = append(fields,
			logx.Bool("delivery.enabled", newCfg.DeliveryEnabled()),
			logx.Int("delivery.rate_per_sec", nd.RatePerSec),
			logx.Strs("delivery.default_channels", nd.DefaultChannels),
		)
	}
	ot, nt := od.Telegram, nd.Telegram
	if ot.Enabled != nt.Enabled || ot.Token != nt.Token || ot.ThreadID != nt.ThreadID || ot.Timeout != nt.Timeout ||
		!slices.Equal(ot.ChatIDs, nt.ChatIDs) || !slices.Equal(ot.AlertChatIDs, nt.AlertChatIDs) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int("telegram.chats", len(nt.ChatIDs)),
		)
	}

	if oldCfg.Lifecycle != newCfg.Lifecycle {
		changed = append(changed, "lifecycle")
		fields = append(fields,
			logx.Int("lifecycle.max_attempts", newCfg.Lifecycle.MaxAttempts),
			logx.String("lifecycle.backoff_step", newCfg.Lifecycle.BackoffStep),
		)
	}
	if oldCfg.Quiet != newCfg.Quiet {
		changed = append(changed, "quiet_hours")
		fields = append(fields, logx.String("quiet_hours", newCfg.Quiet.Start+"-"+newCfg.Quiet.End))
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}
	return changed, fields
}
