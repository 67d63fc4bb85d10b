package reminder

import (
	"testing"
	"time"
)

func TestParseAtVariants(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	now := time.Date(2026, 10, 18, 14, 0, 0, 0, loc)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "rfc3339", raw: "2026-10-18T15:00:00Z", want: time.Date(2026, 10, 18, 15, 0, 0, 0, loc)},
		{name: "local datetime", raw: "2026-10-19 08:30", want: time.Date(2026, 10, 19, 8, 30, 0, 0, loc)},
		{name: "br datetime", raw: "19/10/2026 08:30", want: time.Date(2026, 10, 19, 8, 30, 0, 0, loc)},
		{name: "clock later today", raw: "18:45", want: time.Date(2026, 10, 18, 18, 45, 0, 0, loc)},
		{name: "clock rolls to tomorrow", raw: "09:00", want: time.Date(2026, 10, 19, 9, 0, 0, 0, loc)},
		{name: "duration", raw: "10m", want: now.Add(10 * time.Minute)},
		{name: "cron", raw: "0 9 * * *", want: time.Date(2026, 10, 19, 9, 0, 0, 0, loc)},
		{name: "cron prefix", raw: "cron:30 14 * * *", want: time.Date(2026, 10, 18, 14, 30, 0, 0, loc)},
		{name: "descriptor", raw: "@every 2h", want: now.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAt(tt.raw, now, loc)
			if err != nil {
				t.Fatalf("ParseAt(%q) error: %v", tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("ParseAt(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseAtInvalid(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)
	for _, raw := range []string{"", "tomorrow-ish", "25:00", "-5m", "cron:", "cron:not a cron"} {
		if _, err := ParseAt(raw, now, time.UTC); err == nil {
			t.Fatalf("ParseAt(%q): expected error", raw)
		}
	}
}

func TestRelativeDelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{raw: "5s", want: 5 * time.Second, ok: true},
		{raw: " +10m ", want: 10 * time.Minute, ok: true},
		{raw: "0s"},
		{raw: "-1m"},
		{raw: "18:45"},
		{raw: "0 9 * * *"},
	}
	for _, tt := range tests {
		got, ok := RelativeDelay(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("RelativeDelay(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
