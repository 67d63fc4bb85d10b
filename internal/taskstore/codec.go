package taskstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// formatVersion is written into every persisted blob. Version 0 is the
// legacy unversioned bare array.
const formatVersion = 1

// dateLayout matches the pt-BR locale string the task list has always stored.
const dateLayout = "02/01/2006, 15:04:05"

type taskRecord struct {
	ID             string     `json:"id"`
	Date           string     `json:"date"`
	Description    string     `json:"description"`
	Check          bool       `json:"check"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
	NotificationID string     `json:"notificationId,omitempty"`
}

type envelope struct {
	Version int          `json:"version"`
	Tasks   []taskRecord `json:"tasks"`
}

func encodeTasks(tasks []Task, loc *time.Location) ([]byte, error) {
	env := envelope{Version: formatVersion, Tasks: make([]taskRecord, 0, len(tasks))}
	for _, t := range tasks {
		rec := taskRecord{
			ID:             t.ID,
			Description:    t.Description,
			Check:          t.Completed,
			NotificationID: t.ReminderHandle,
		}
		if !t.CreatedAt.IsZero() {
			rec.Date = t.CreatedAt.In(loc).Format(dateLayout)
		}
		if !t.ScheduledAt.IsZero() {
			at := t.ScheduledAt.UTC()
			rec.ScheduledAt = &at
		}
		env.Tasks = append(env.Tasks, rec)
	}
	return json.Marshal(env)
}

// decodeTasks skips records without an id and later records repeating an
// id, reporting each in skipped. Only a blob that is not a task list at all
// is an error.
func decodeTasks(b []byte, loc *time.Location) (tasks []Task, skipped []string, err error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil, nil
	}

	var recs []taskRecord
	if b[0] == '[' {
		if err := json.Unmarshal(b, &recs); err != nil {
			return nil, nil, err
		}
	} else {
		var env envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, nil, err
		}
		if env.Version > formatVersion {
			return nil, nil, fmt.Errorf("unsupported task format version %d", env.Version)
		}
		recs = env.Tasks
	}

	out := make([]Task, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			skipped = append(skipped, fmt.Sprintf("record %d has no id", i))
			continue
		}
		if _, dup := seen[r.ID]; dup {
			skipped = append(skipped, fmt.Sprintf("record %d repeats id %q", i, r.ID))
			continue
		}
		seen[r.ID] = struct{}{}

		t := Task{
			ID:             r.ID,
			Description:    r.Description,
			Completed:      r.Check,
			ReminderHandle: r.NotificationID,
		}
		if r.Date != "" {
			if created, err := time.ParseInLocation(dateLayout, r.Date, loc); err == nil {
				t.CreatedAt = created
			}
		}
		if r.ScheduledAt != nil {
			t.ScheduledAt = *r.ScheduledAt
		}
		out = append(out, t)
	}
	return out, skipped, nil
}
