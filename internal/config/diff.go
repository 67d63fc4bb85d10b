package config

import (
	"strings"

	logx "taskminder/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (the Telegram token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage is only read at startup; surface it so operators know a restart is needed.
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.String("reminders.min_lead_time", string(newCfg.Reminders.MinLeadTime)),
			logx.String("reminders.timezone", newCfg.Reminders.Timezone),
			logx.String("reminders.resync", newCfg.Reminders.Resync),
		)
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	tokenChanged := strings.TrimSpace(on.Telegram.Token) != strings.TrimSpace(nn.Telegram.Token)
	on.Telegram.Token, nn.Telegram.Token = "", ""
	if on != nn || tokenChanged {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
			logx.Bool("notifier.telegram_enabled", nn.Telegram.Enabled),
			logx.Bool("notifier.telegram_token_changed", tokenChanged),
		)
	}

	return changed, attrs
}
