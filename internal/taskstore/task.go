package taskstore

import "time"

// Task is a single to-do entry.
type Task struct {
	ID          string
	Description string
	CreatedAt   time.Time
	// ScheduledAt is zero when no reminder was requested.
	ScheduledAt time.Time
	Completed   bool
	// ReminderHandle is empty when the task has no pending reminder.
	ReminderHandle string
}

func (t Task) HasReminder() bool { return t.ReminderHandle != "" }

// ChangeEvent is the Data of every event the store publishes.
type ChangeEvent struct {
	Op     string `json:"op"`
	TaskID string `json:"task_id,omitempty"`
	Count  int    `json:"count"`
}

// Event types published on the store's bus.
const (
	eventPrefix = "tasks."

	EventLoaded  = "tasks.loaded"
	EventAdded   = "tasks.added"
	EventToggled = "tasks.toggled"
	EventDeleted = "tasks.deleted"
	EventCleared = "tasks.cleared"
)
