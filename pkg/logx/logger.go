package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// source yields the zerolog logger a Logger writes through. *Service is a
// source, so derived loggers follow Apply.
type source interface {
	zl() zerolog.Logger
}

type fixed struct{ l zerolog.Logger }

func (f fixed) zl() zerolog.Logger { return f.l }

// Logger is passed by value. The zero Logger writes nothing and reports
// IsZero, which constructors use to substitute Nop.
type Logger struct {
	src    source
	fields []Field
}

func Nop() Logger { return Logger{src: fixed{zerolog.Nop()}} }

// NewJSON writes one JSON object per line to w.
func NewJSON(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, LevelInfo)).With().Timestamp().Logger()
	return Logger{src: fixed{zl}}
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

func (l Logger) Enabled(lv Level) bool { return lv >= l.current().GetLevel() }

// With returns a logger that adds fields to every line.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l Logger) current() zerolog.Logger {
	if l.src == nil {
		return zerolog.Nop()
	}
	return l.src.zl()
}

func (l Logger) emit(lv Level, msg string, fields []Field) {
	zl := l.current()
	ev := zl.WithLevel(lv)
	if ev == nil {
		return
	}
	// 0 is emit, 1 the level method, 2 the caller.
	if _, file, line, ok := runtime.Caller(2); ok {
		ev.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, set := range [2][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(ev)
			}
		}
	}
	ev.Msg(msg)
}

// parseLevel accepts zerolog's level names plus "warning".
func parseLevel(raw string, def Level) Level {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "warning" {
		raw = "warn"
	}
	lv, err := zerolog.ParseLevel(raw)
	if err != nil || lv == zerolog.NoLevel {
		return def
	}
	return lv
}
