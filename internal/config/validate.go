package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var resyncParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks values that decoding alone cannot catch.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3", "memory", "mem":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := cfg.Storage.BusyTimeout.Parse("storage.busy_timeout"); err != nil {
		errs = append(errs, err)
	}

	if _, err := cfg.Reminders.MinLeadTime.Parse("reminders.min_lead_time"); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("reminders.timezone: %w", err))
		}
	}
	if spec := strings.TrimSpace(cfg.Reminders.Resync); spec != "" {
		if _, err := resyncParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("reminders.resync: %w", err))
		}
	}

	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
		errs = append(errs, errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
	}
	if _, err := n.RetryBase.Parse("notifier.retry_base"); err != nil {
		errs = append(errs, err)
	}
	if _, err := n.RetryMaxDelay.Parse("notifier.retry_max_delay"); err != nil {
		errs = append(errs, err)
	}
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.Token) == "" {
			errs = append(errs, errors.New("notifier.telegram.token is required when telegram is enabled"))
		}
		if n.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("notifier.telegram.chat_id is required when telegram is enabled"))
		}
	}
	return errors.Join(errs...)
}
