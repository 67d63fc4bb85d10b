package notifier

import (
	"context"
	"strings"

	logx "taskminder/pkg/logx"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.Sink("log"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("reminder",
		logx.TaskID(n.TaskID),
		logx.String("title", n.Title),
		logx.String("text", n.Text),
		logx.Due(n.DueAt),
	)
	return nil
}

// FormatText renders a notification as a single plain-text message.
func FormatText(n Notification) string {
	title := strings.TrimSpace(n.Title)
	text := strings.TrimSpace(n.Text)
	switch {
	case title == "":
		return text
	case text == "":
		return title
	default:
		return title + "\n" + text
	}
}
