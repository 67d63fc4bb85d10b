package config

// Config is the on-disk configuration. Field names follow the JSON/YAML keys.
//
// Durations are Go duration strings (e.g. "500ms", "5s", "1m"); see Duration.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Notifier  NotifierConfig  `json:"notifier"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the key-value backend.
//
// Driver values: "file" (default), "sqlite", "memory".
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"`
}

type RemindersConfig struct {
	// MinLeadTime is how far ahead a reminder must be requested.
	MinLeadTime Duration `json:"min_lead_time"`
	// Timezone is an IANA name. Empty means the host's local zone.
	Timezone string `json:"timezone"`
	// Resync is a cron spec for reloading reminder definitions written by
	// other processes (e.g. "@every 30s"). Empty disables it.
	Resync string `json:"resync"`
}

type NotifierConfig struct {
	Enabled       bool           `json:"enabled"`
	Workers       int            `json:"workers"`
	QueueSize     int            `json:"queue_size"`
	RatePerSec    int            `json:"rate_per_sec"`
	RetryMax      int            `json:"retry_max"`
	RetryBase     Duration       `json:"retry_base"`
	RetryMaxDelay Duration       `json:"retry_max_delay"`
	Telegram      TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// Default returns the configuration used when no file exists. Parse decodes
// on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFileConfig{Path: "./taskminder.log"},
		},
		Storage: StorageConfig{
			Driver:      "file",
			Path:        "./data/taskminder",
			BusyTimeout: "2s",
		},
		Reminders: RemindersConfig{
			MinLeadTime: "5s",
			Resync:      "@every 30s",
		},
		Notifier: NotifierConfig{
			Enabled:       true,
			Workers:       1,
			QueueSize:     64,
			RatePerSec:    2,
			RetryMax:      3,
			RetryBase:     "500ms",
			RetryMaxDelay: "10s",
		},
	}
}
