package reminder

import (
	"context"
	"errors"
	"time"
)

var (
	ErrHandlerRegistered = errors.New("reminder handler already registered")
	ErrNoTime            = errors.New("reminder time required")
)

// DefaultStorageKey is where the definition set is persisted.
const DefaultStorageKey = "reminders"

// Config controls the reminder scheduler.
type Config struct {
	// Timezone is an IANA name used for ParseAt and log output.
	// Empty means time.Local.
	Timezone string
	// StorageKey overrides DefaultStorageKey.
	StorageKey string
}

// Payload is what gets delivered when a reminder fires.
type Payload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Reminder is a scheduled, cancellable alert.
type Reminder struct {
	Handle  string    `json:"handle"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"payload"`
}

// Handler receives fired reminders. It runs on the timer goroutine.
type Handler func(ctx context.Context, r Reminder)
