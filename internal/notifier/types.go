package notifier

import (
	"context"
	"time"
)

// Config controls the notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Notification is one user-facing alert.
type Notification struct {
	TaskID string
	Title  string
	Text   string
	// DueAt is when the reminder was scheduled to fire.
	DueAt time.Time
}

// Sink delivers notifications to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type HistoryItem struct {
	At     time.Time
	TaskID string
	Text   string
	Sinks  []string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	TaskID string    `json:"task_id"`
	Sink   string    `json:"sink,omitempty"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
