package app

import (
	"fmt"
	"strings"
	"time"

	"taskminder/internal/config"
	"taskminder/internal/notifier"
	"taskminder/internal/reminder"
	"taskminder/internal/storage"
	"taskminder/internal/taskstore"
	logx "taskminder/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := sc.BusyTimeout.Or("storage.busy_timeout", 2*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapReminderConfig(cfg *config.Config) reminder.Config {
	return reminder.Config{Timezone: strings.TrimSpace(cfg.Reminders.Timezone)}
}

func mapStoreConfig(cfg *config.Config, loc *time.Location) (taskstore.Config, error) {
	lead, err := cfg.Reminders.MinLeadTime.Or("reminders.min_lead_time", taskstore.DefaultMinLeadTime)
	if err != nil {
		return taskstore.Config{}, err
	}
	return taskstore.Config{MinLeadTime: lead, Location: loc}, nil
}

// mapNotifierConfig maps the JSON notifier section into notifier.Config (parsed durations).
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	out := notifier.Config{
		Enabled:    n.Enabled,
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
	}
	if out.Workers < 0 || out.QueueSize < 0 || out.RatePerSec < 0 || out.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: negative sizes are not allowed")
	}
	var err error
	out.RetryBase, err = n.RetryBase.Or("notifier.retry_base", 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	out.RetryMaxDelay, err = n.RetryMaxDelay.Or("notifier.retry_max_delay", 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// buildSinks always includes the log sink; Telegram is added when enabled.
func buildSinks(cfg *config.Config, log logx.Logger) ([]notifier.Sink, error) {
	sinks := []notifier.Sink{notifier.NewLogSink(log)}
	tg := cfg.Notifier.Telegram
	if !tg.Enabled {
		return sinks, nil
	}
	sk, err := notifier.NewTelegramSink(notifier.TelegramConfig{
		Token:    tg.Token,
		ChatID:   tg.ChatID,
		ThreadID: tg.ThreadID,
	})
	if err != nil {
		return nil, fmt.Errorf("notifier.telegram: %w", err)
	}
	return append(sinks, sk), nil
}
