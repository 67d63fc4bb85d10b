package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "taskstore"))
	log.Warn("persist failed", Err(errors.New("disk full")), Int("tasks", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v, want warn", m["level"])
	}
	if m["comp"] != "taskstore" {
		t.Fatalf("comp = %v, want taskstore", m["comp"])
	}
	if m["err"] != "disk full" {
		t.Fatalf("err = %v, want disk full", m["err"])
	}
	if m["tasks"] != float64(3) {
		t.Fatalf("tasks = %v, want 3", m["tasks"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled at warn level")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("error should be enabled at warn level")
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	zero.Info("no panic")
	if Nop().IsZero() {
		t.Fatal("Nop should not report IsZero")
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	if log.Enabled(LevelInfo) {
		t.Fatal("info should be disabled at error level")
	}
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	if !log.Enabled(LevelDebug) {
		t.Fatal("derived logger should follow Apply")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Level
	}{
		{"", LevelInfo},
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestDomainFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "info").With(Comp("reminder"))
	log.Info("reminder fired", TaskID("t-1"), Handle("h-9"), Sink("telegram"), Due(time.Time{}))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	want := map[string]string{KeyComp: "reminder", KeyTask: "t-1", KeyHandle: "h-9", KeySink: "telegram"}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("%s = %v, want %s", k, m[k], v)
		}
	}
	if _, ok := m[KeyDue]; ok {
		t.Fatal("zero due time should be omitted")
	}
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewJSON(&buf, "info").With(String("a", "1"))
	left := base.With(String("side", "left"))
	_ = base.With(String("side", "right"))
	left.Info("x")
	if !bytes.Contains(buf.Bytes(), []byte(`"side":"left"`)) {
		t.Fatalf("derived logger lost its field: %q", buf.String())
	}
}
