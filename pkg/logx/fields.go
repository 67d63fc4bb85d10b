package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field decorates one log event. Later fields win on duplicate keys.
type Field func(*zerolog.Event)

func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }

func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }

func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }

func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }

func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }

func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Keys shared by every package that logs about tasks and reminders.
const (
	KeyComp   = "comp"
	KeyTask   = "task_id"
	KeyHandle = "handle"
	KeySink   = "sink"
	KeyDue    = "due_at"
)

// Comp tags a logger with the subsystem that owns it.
func Comp(name string) Field { return String(KeyComp, name) }

func TaskID(id string) Field { return String(KeyTask, id) }

// Handle is a reminder handle.
func Handle(h string) Field { return String(KeyHandle, h) }

func Sink(name string) Field { return String(KeySink, name) }

// Due is omitted for the zero time.
func Due(at time.Time) Field {
	return func(e *zerolog.Event) {
		if !at.IsZero() {
			e.Time(KeyDue, at)
		}
	}
}
