package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskminder/internal/config"
	"taskminder/internal/notifier"
	"taskminder/internal/reminder"
	logx "taskminder/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskminder.yaml")
	body = "logging:\n  console: false\nstorage:\n  driver: file\n  path: " + filepath.Join(dir, "data") + "\n" + body
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewLoadsPersistedTasks(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, "")

	a, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Store().Add(ctx, "Buy milk", time.Time{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	b, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer b.Close()
	tasks := b.Store().Tasks()
	if len(tasks) != 1 || tasks[0].Description != "Buy milk" {
		t.Fatalf("tasks after reopen = %+v", tasks)
	}
}

func TestDaemonDeliversReminder(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, "reminders:\n  min_lead_time: 1ms\n  resync: \"\"\nnotifier:\n  retry_base: 1ms\n  rate_per_sec: 100\n")

	a, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, unsub := a.Bus().Subscribe(32)
	defer unsub()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	task, err := a.Store().Add(ctx, "Call mom", time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !task.HasReminder() {
		t.Fatal("task should carry a reminder handle")
	}

	var fired, sent bool
	deadline := time.After(3 * time.Second)
	for !fired || !sent {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventReminderFired:
				r := ev.Data.(reminder.Reminder)
				if r.Payload.TaskID != task.ID {
					t.Fatalf("fired for %q, want %q", r.Payload.TaskID, task.ID)
				}
				fired = true
			case "notifier.sent":
				if ev.Data.(notifier.NotificationEvent).TaskID == task.ID {
					sent = true
				}
			}
		case <-deadline:
			t.Fatalf("fired=%v sent=%v", fired, sent)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopCommand); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h := a.Notifier().History(); len(h) != 1 || h[0].TaskID != task.ID {
		t.Fatalf("history = %+v", h)
	}
}

func TestStopDeliversQueuedReminders(t *testing.T) {
	path := writeConfig(t, "reminders:\n  resync: \"\"\nnotifier:\n  rate_per_sec: 100\n")
	ctx, interrupt := context.WithCancel(context.Background())
	defer interrupt()

	a, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// A signal cancels the run context before Stop is called.
	interrupt()

	const fired = 5
	for i := 0; i < fired; i++ {
		a.onReminder(ctx, reminder.Reminder{
			Handle:  fmt.Sprintf("h%d", i),
			At:      time.Now(),
			Payload: reminder.Payload{TaskID: fmt.Sprintf("t%d", i), Title: "Task reminder", Body: "stretch"},
		})
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h := a.Notifier().History(); len(h) != fired {
		t.Fatalf("delivered %d of %d reminders fired before Stop", len(h), fired)
	}
}

func TestStopWithoutStartCloses(t *testing.T) {
	a, err := New(context.Background(), writeConfig(t, ""))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Stop(context.Background(), StopUnknown); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	path := writeConfig(t, "reminders:\n  min_lead_time: later\n")
	if _, err := New(context.Background(), path); err == nil {
		t.Fatal("expected config error")
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "default file", in: config.StorageConfig{Path: "d"}, driver: "file"},
		{name: "sqlite", in: config.StorageConfig{Driver: "SQLite3", Path: "db", BusyTimeout: "3s"}, driver: "sqlite", busy: 3 * time.Second},
		{name: "sqlite default busy", in: config.StorageConfig{Driver: "sqlite", Path: "db"}, driver: "sqlite", busy: 2 * time.Second},
		{name: "sqlite needs path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "memory", in: config.StorageConfig{Driver: "memory"}, driver: "memory"},
		{name: "unknown", in: config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Driver != tt.driver || got.BusyTimeout != tt.busy {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	got, err := mapNotifierConfig(config.Default())
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !got.Enabled || got.RetryBase != 500*time.Millisecond || got.RetryMaxDelay != 10*time.Second {
		t.Fatalf("got %+v", got)
	}
	bad := config.Default()
	bad.Notifier.Workers = -1
	if _, err := mapNotifierConfig(bad); err == nil {
		t.Fatal("expected error for negative workers")
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := config.Default()
	sinks, err := buildSinks(cfg, logx.Nop())
	if err != nil || len(sinks) != 1 || sinks[0].Name() != "log" {
		t.Fatalf("sinks = %v, err = %v", sinks, err)
	}
	cfg.Notifier.Telegram.Enabled = true
	if _, err := buildSinks(cfg, logx.Nop()); err == nil {
		t.Fatal("expected error for telegram without credentials")
	}
}
